package model

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// compileSchema prepares the JSON Schema of a json column.
func (c *Column) compileSchema() error {
	if strings.TrimSpace(c.Schema) == "" {
		c.schema = nil
		return nil
	}
	if c.Type != TypeJSON {
		return fmt.Errorf("column %s: schema is only allowed on json columns", c.Name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(c.Schema))
	if err != nil {
		return fmt.Errorf("column %s: invalid schema: %w", c.Name, err)
	}
	c.schema = schema
	return nil
}

// ValidateJSON checks an encoded json value against the column schema. Columns
// without a schema accept any document.
func (c Column) ValidateJSON(doc []byte) error {
	if c.schema == nil {
		return nil
	}
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("document does not match schema: %s", strings.Join(problems, "; "))
}
