// Package templatefile implements the template-file operation: render
// an inline template or a template file against a context and
// optionally write the result to a file.
package templatefile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
	"github.com/c360studio/flowrunner/template"
)

// Name is the registry name of the operation.
const Name = "template-file"

// Op renders one template per run.
type Op struct {
	operation.Base

	source     string
	sourceFile string
	outputFile string
	context    map[string]any
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
		Description: "Renders a template to text or a file",
	}
}

// Validate implements operation.Operation. Exactly one of template and
// template_file must be set.
func (o *Op) Validate(params map[string]any) error {
	source := operation.StringOr(params, "template", "")
	sourceFile := operation.StringOr(params, "template_file", "")
	if (source == "") == (sourceFile == "") {
		return fmt.Errorf("exactly one of %q and %q is required", "template", "template_file")
	}

	context, _ := params["context"].(map[string]any)

	o.Params = params
	o.source = source
	o.sourceFile = sourceFile
	o.outputFile = operation.StringOr(params, "output_file", "")
	o.context = context
	return nil
}

// Run implements operation.Operation. The rendered text is always in
// the output; when output_file is set it is also written there.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	source := o.source
	if o.sourceFile != "" {
		data, err := os.ReadFile(o.sourceFile)
		if err != nil {
			return operation.Ko(fmt.Errorf("read template: %w", err))
		}
		source = string(data)
	}

	rendered, err := template.Render(source, o.context)
	if err != nil {
		return operation.Ko(fmt.Errorf("render: %w", err))
	}

	output := map[string]any{"content": rendered}
	if o.outputFile != "" {
		if err := os.MkdirAll(filepath.Dir(o.outputFile), 0755); err != nil {
			return operation.Ko(fmt.Errorf("create output directory: %w", err))
		}
		if err := os.WriteFile(o.outputFile, []byte(rendered), 0644); err != nil {
			return operation.Ko(fmt.Errorf("write output: %w", err))
		}
		output["path"] = o.outputFile
	}
	return operation.Ok(output)
}
