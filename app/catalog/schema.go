package catalog

import (
	"github.com/invopop/jsonschema"
)

// GenerateSchema produces the JSON schema for catalog YAML files, used by
// the schema generator in internal/schema to publish catalog-schema.json
// for editor validation.
func GenerateSchema() *jsonschema.Schema {
	schema := jsonschema.Reflect(&Catalog{})
	schema.Title = "blastweb catalog"
	schema.Description = "program and database option sets for the submission form"
	return schema
}
