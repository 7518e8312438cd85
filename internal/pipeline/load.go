package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/runway/internal/expr"
	"github.com/mattjoyce/runway/internal/schema"
	"github.com/mattjoyce/runway/internal/template"
)

// CodeSchemaViolation marks structural errors found before conversion.
const CodeSchemaViolation = "SchemaViolation"

// WorkflowNamedValues are the contexts an expression in a workflow may
// reference.
var WorkflowNamedValues = []string{"github", "needs", "strategy", "matrix", "steps", "env", "job", "runner", "secrets"}

// ReadExtensions returns the named values and functions used to validate
// expressions while a workflow is read.
func ReadExtensions() ([]expr.NamedValueInfo, []expr.FunctionInfo) {
	return parseNamedValues(WorkflowNamedValues), parseStatusFunctions()
}

// LoadFile reads and converts the workflow at path.
func LoadFile(ctx *template.Context, path string) (*PipelineTemplate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %q: %w", path, err)
	}
	return Load(ctx, path, content)
}

// Load reads content as JSON when fileName ends in .json and as YAML
// otherwise, checks it against the workflow schema and converts it.
// Content problems are returned in PipelineTemplate.Errors; the error result
// is reserved for failures of the loader itself.
func Load(ctx *template.Context, fileName string, content []byte) (*PipelineTemplate, error) {
	if ctx.NamedValues == nil && ctx.Functions == nil {
		ctx.NamedValues, ctx.Functions = ReadExtensions()
	}
	id := ctx.AddFile(fileName)
	failed := func() *PipelineTemplate {
		return &PipelineTemplate{Errors: ctx.Errors.Items(), FileTable: ctx.Files()}
	}

	var reader template.ObjectReader
	if strings.EqualFold(filepath.Ext(fileName), ".json") {
		reader = template.NewJSONReader(id, content)
	} else {
		yr, err := template.NewYAMLReader(id, content)
		if err != nil {
			ctx.Errors.Addf(fileName, "%s", err.Error())
			return failed(), nil
		}
		reader = yr
	}

	root, err := template.Read(ctx, reader)
	if err != nil {
		return nil, fmt.Errorf("read workflow %q: %w", fileName, err)
	}
	if root == nil || ctx.Errors.Count() > 0 {
		if root == nil && ctx.Errors.Count() == 0 {
			ctx.Errors.Addf(fileName, "The workflow is empty")
		}
		return failed(), nil
	}

	violations, err := schema.Validate(template.ToContextData(root))
	if err != nil {
		return nil, fmt.Errorf("validate workflow %q: %w", fileName, err)
	}
	for _, v := range violations {
		ctx.Errors.Add(template.ValidationError{Code: CodeSchemaViolation, Message: fileName + ": " + v.Error()})
	}
	if len(violations) > 0 {
		return failed(), nil
	}

	p := ConvertToPipeline(ctx, root)
	if len(p.Errors) == 0 {
		fp, err := Fingerprint(p)
		if err != nil {
			return nil, err
		}
		p.Fingerprint = fp
	}
	return p, nil
}
