// Package patch implements the json-patch operation: apply an RFC 6902
// patch or an RFC 7386 merge patch to a document.
package patch

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "json-patch"

// Op applies one patch per run. A list-shaped patch is treated as RFC
// 6902 operations; a map-shaped patch as a merge patch.
type Op struct {
	operation.Base

	document []byte
	patch    []byte
	merge    bool
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Applies JSON patch and merge patch documents",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	doc, ok := params["document"]
	if !ok {
		return fmt.Errorf("param %q is required", "document")
	}
	document, err := toJSON(doc)
	if err != nil {
		return fmt.Errorf("document: %w", err)
	}

	rawPatch, ok := params["patch"]
	if !ok {
		return fmt.Errorf("param %q is required", "patch")
	}
	var merge bool
	switch p := rawPatch.(type) {
	case []any:
	case map[string]any:
		merge = true
	case string:
		// A string patch declares its own shape.
		var probe any
		if err := json.Unmarshal([]byte(p), &probe); err != nil {
			return fmt.Errorf("patch: %w", err)
		}
		_, merge = probe.(map[string]any)
	default:
		return fmt.Errorf("patch must be a list, mapping or JSON string")
	}
	patch, err := toJSON(rawPatch)
	if err != nil {
		return fmt.Errorf("patch: %w", err)
	}

	o.Params = params
	o.document = document
	o.patch = patch
	o.merge = merge
	return nil
}

// Run implements operation.Operation.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	var patched []byte
	var err error
	if o.merge {
		patched, err = jsonpatch.MergePatch(o.document, o.patch)
	} else {
		var p jsonpatch.Patch
		p, err = jsonpatch.DecodePatch(o.patch)
		if err == nil {
			patched, err = p.Apply(o.document)
		}
	}
	if err != nil {
		return operation.Ko(fmt.Errorf("apply patch: %w", err))
	}

	var result any
	if err := json.Unmarshal(patched, &result); err != nil {
		return operation.Ko(fmt.Errorf("decode patched document: %w", err))
	}
	return operation.Ok(map[string]any{"result": result})
}

// toJSON serialises a param that may arrive as a value tree or an
// already-encoded string.
func toJSON(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("not valid JSON")
		}
		return []byte(s), nil
	}
	return json.Marshal(v)
}
