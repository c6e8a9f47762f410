package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/teller/teller.schema.json"

var schemaDoc = sync.OnceValues(func() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.ID = schemaID
	schema.Title = "teller configuration"
	return json.MarshalIndent(schema, "", "  ")
})

// JSONSchema returns the JSON Schema of the configuration file, reflected
// from Config using yaml field names.
func JSONSchema() ([]byte, error) {
	return schemaDoc()
}
