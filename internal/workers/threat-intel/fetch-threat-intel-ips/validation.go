package fetchthreatintelips

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Process variables carry more than this worker reads, so extra keys are allowed.
const inputSchema = `{
	"type": "object",
	"properties": {
		"requestedBy": {"type": "string", "maxLength": 128},
		"publishSnapshot": {"type": "boolean"}
	}
}`

var inputSchemaLoader = gojsonschema.NewStringLoader(inputSchema)

// parseInput validates the raw job variables and decodes them. Empty
// variables are treated as an empty object.
func parseInput(raw string) (*Input, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	result, err := gojsonschema.Validate(inputSchemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("input validation failed: %s", strings.Join(errs, "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return &input, nil
}
