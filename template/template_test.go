package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	ctx := map[string]any{
		"v":     map[string]any{"a": "x"},
		"items": []any{map[string]any{"b": "first"}, map[string]any{"b": "second"}},
	}

	t.Run("dotted accessor", func(t *testing.T) {
		out, err := Render("hello {{ v.a }}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "hello x", out)
	})

	t.Run("array index accessor", func(t *testing.T) {
		out, err := Render("{{ items.0.b }}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", out)
	})

	t.Run("no placeholders unchanged", func(t *testing.T) {
		out, err := Render("plain text", ctx)
		require.NoError(t, err)
		assert.Equal(t, "plain text", out)
	})

	t.Run("json_encode filter", func(t *testing.T) {
		out, err := Render("{{ v | json_encode }}", ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":"x"}`, out)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := Render("{{ unclosed", ctx)
		assert.ErrorIs(t, err, ErrTemplate)
	})
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("Y", "42")

	tests := []struct {
		in   string
		want string
	}{
		{"${Y}", "42"},
		{"$Y", "42"},
		{"${Y:0}", "42"},
		{"${MISSING:5}", "5"},
		{"${MISSING}", ""},
		{"no refs", "no refs"},
		{"a ${Y} b ${MISSING:z}", "a 42 b z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandEnv(tt.in), tt.in)
	}
}

func TestRenderValue(t *testing.T) {
	ctx := map[string]any{"name": "flow"}

	t.Run("preserves shape for non-strings", func(t *testing.T) {
		in := map[string]any{
			"n":    float64(1),
			"b":    true,
			"null": nil,
			"list": []any{float64(1), "{{ name }}"},
		}
		out, err := RenderValue(in, ctx)
		require.NoError(t, err)
		m := out.(map[string]any)
		assert.Equal(t, float64(1), m["n"])
		assert.Equal(t, true, m["b"])
		assert.Nil(t, m["null"])
		assert.Equal(t, []any{float64(1), "flow"}, m["list"])
	})

	t.Run("env expansion before render", func(t *testing.T) {
		t.Setenv("TARGET", "prod")
		out, err := RenderValue("${TARGET}-{{ name }}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "prod-flow", out)
	})
}

func TestEvalBool(t *testing.T) {
	ctx := map[string]any{"count": 3, "label": "ok"}

	tests := []struct {
		name    string
		src     string
		want    bool
		wantErr bool
	}{
		{"empty is true", "", true, false},
		{"literal true", "true", true, false},
		{"literal false", "false", false, false},
		{"comparison", "count > 2", true, false},
		{"equality", `label == "ok"`, true, false},
		{"inequality", `label != "ok"`, false, false},
		{"and or", `count > 2 && (label == "ok" || false)`, true, false},
		{"negation", "!(count == 3)", false, false},
		{"malformed", "count >", false, true},
		{"not boolean", `"just a string"`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(tt.src, ctx)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadCondition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderRegister(t *testing.T) {
	ctx := map[string]any{
		"result": map[string]any{"stdout": `{"x":1}`},
		"n":      "42",
	}

	out, err := RenderRegister(map[string]any{
		"decoded": "{{ result.stdout | safe }}",
		"number":  "{{ n }}",
		"text":    "not json at all",
	}, ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"x": float64(1)}, out["decoded"])
	assert.Equal(t, float64(42), out["number"])
	assert.Equal(t, "not json at all", out["text"])
}
