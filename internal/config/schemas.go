package config

import (
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// aliasTableSchema describes the shape shared by the company and
// incident-code documents.
const aliasTableSchemaFmt = `{
	"type": "object",
	"required": [%q],
	"additionalProperties": false,
	"properties": {
		%q: {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["key", "display_name"],
				"additionalProperties": false,
				"properties": {
					"key":          {"type": "string", "minLength": 1},
					"display_name": {"type": "string", "minLength": 1},
					"aliases": {
						"type": "array",
						"items": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}
}`

const keywordRulesSchema = `{
	"type": "object",
	"required": ["rules"],
	"additionalProperties": false,
	"properties": {
		"rules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["category", "patterns"],
				"additionalProperties": false,
				"properties": {
					"category": {"type": "string", "minLength": 1},
					"patterns": {
						"type": "array",
						"minItems": 1,
						"items": {"type": "string", "minLength": 1}
					},
					"case_sensitive": {"type": "boolean"}
				}
			}
		}
	}
}`

const fieldMappingSchema = `{
	"type": "object",
	"required": ["sheet", "columns"],
	"additionalProperties": false,
	"properties": {
		"sheet": {"type": "string", "minLength": 1},
		"columns": {
			"type": "object",
			"required": ["sender", "received_at", "company", "incident_code"],
			"additionalProperties": false,
			"properties": {
				"sender":        {"type": "string", "minLength": 1},
				"received_at":   {"type": "string", "minLength": 1},
				"company":       {"type": "string", "minLength": 1},
				"incident_code": {"type": "string", "minLength": 1}
			}
		}
	}
}`

// schemas holds the compiled JSON schema for each table.
var schemas map[Table]*jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	raw := map[Table]string{
		TableCompanies:     fmt.Sprintf(aliasTableSchemaFmt, "companies", "companies"),
		TableIncidentCodes: fmt.Sprintf(aliasTableSchemaFmt, "incident_codes", "incident_codes"),
		TableKeywordRules:  keywordRulesSchema,
		TableFieldMapping:  fieldMappingSchema,
	}

	schemas = make(map[Table]*jsonschema.Schema, len(raw))
	for table, src := range raw {
		schema, err := compiler.Compile([]byte(src))
		if err != nil {
			panic(fmt.Sprintf("compiling %s schema: %v", table, err))
		}
		schemas[table] = schema
	}
}

// validateSchema checks raw document bytes against the table's JSON schema.
func validateSchema(table Table, data []byte) error {
	result := schemas[table].ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return &ConfigError{
		Table:  table,
		Reason: fmt.Sprintf("schema validation failed: %v", result.Errors),
	}
}
