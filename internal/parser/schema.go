package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const jobSchemaURL = "applytrack://schemas/job.json"

// jobSchema accepts any object carrying an identifier, a company or a role.
// "id" is read as an alias of "uuid".
const jobSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "anyOf": [
    {"required": ["uuid"]},
    {"required": ["id"]},
    {"required": ["company"]},
    {"required": ["role"]}
  ],
  "properties": {
    "uuid":    {"type": ["string", "number"]},
    "id":      {"type": ["string", "number"]},
    "company": {"type": "string"},
    "role":    {"type": "string"},
    "title":   {"type": "string"},
    "url":     {"type": "string"}
  }
}`

var compiledJobSchema = mustCompileJobSchema()

func mustCompileJobSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jobSchema))
	if err != nil {
		panic(fmt.Sprintf("parse job schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(jobSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("add job schema: %v", err))
	}
	sch, err := c.Compile(jobSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("compile job schema: %v", err))
	}
	return sch
}

// ValidateJobJSON reports whether data is a JSON job document.
func ValidateJobJSON(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := compiledJobSchema.Validate(inst); err != nil {
		return fmt.Errorf("not a job document: %w", err)
	}
	return nil
}
