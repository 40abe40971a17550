// Package template renders task parameters and conditions against a
// context tree. Text templates use pongo2 ({{ expr }} with pipe filters
// and dotted/indexed accessors); conditions are compiled with expr after
// rendering. String leaves are expanded against the environment
// (${NAME}, $NAME, ${NAME:default}) before rendering.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/flosch/pongo2/v6"
)

var filterOnce sync.Once

func registerFilters() {
	filterOnce.Do(func() {
		// Rendered output is data, not HTML.
		pongo2.SetAutoescape(false)
		// safe is built into pongo2; json_encode is ours.
		_ = pongo2.RegisterFilter("json_encode",
			func(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
				b, err := json.Marshal(in.Interface())
				if err != nil {
					return nil, &pongo2.Error{Sender: "filter:json_encode", OrigError: err}
				}
				return pongo2.AsSafeValue(string(b)), nil
			})
	})
}

// Render expands s as a text template against ctx.
func Render(s string, ctx map[string]any) (string, error) {
	registerFilters()
	tpl, err := pongo2.FromString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	out, err := tpl.Execute(pongo2.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	return out, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces ${NAME}, ${NAME:default} and $NAME references with
// environment values. A missing variable without a default expands to
// the empty string.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[3]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return groups[2]
	})
}

// RenderValue walks any JSON value and renders each string leaf as a
// text template after environment expansion. Arrays and objects recurse;
// non-string leaves pass through untouched.
func RenderValue(v any, ctx map[string]any) (any, error) {
	switch node := v.(type) {
	case string:
		return Render(ExpandEnv(node), ctx)
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, item := range node {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// RenderMap renders every value of m as a value template.
func RenderMap(m map[string]any, ctx map[string]any) (map[string]any, error) {
	rendered, err := RenderValue(m, ctx)
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: rendered params are not an object", ErrTemplate)
	}
	return out, nil
}

// EvalBool evaluates a boolean expression (&&, ||, !, ==, !=,
// comparisons, parentheses, literals, identifier lookups) against ctx.
// An empty expression is true; a malformed one fails.
func EvalBool(src string, ctx map[string]any) (bool, error) {
	if src == "" {
		return true, nil
	}
	if ctx == nil {
		ctx = map[string]any{}
	}
	program, err := expr.Compile(src,
		expr.Env(ctx),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrBadCondition, src, err)
	}
	out, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ErrBadCondition, src, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q is not boolean", ErrBadCondition, src)
	}
	return b, nil
}

// RenderRegister renders each register entry as a value template. A
// rendered string that parses as JSON is stored decoded, otherwise as
// the string itself.
func RenderRegister(register map[string]any, ctx map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(register))
	for name, tmpl := range register {
		rendered, err := RenderValue(tmpl, ctx)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		if s, ok := rendered.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				out[name] = decoded
				continue
			}
		}
		out[name] = rendered
	}
	return out, nil
}
