package jsondb

import "github.com/invopop/jsonschema"

// DocumentSchema describes the layout of a data file.
func DocumentSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set(idKey, &jsonschema.Schema{
		Type:        "string",
		Description: "Record identifier, unique within its collection by convention",
	})
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "jsondb document",
		Description: "Collection name to ordered records",
		Type:        "object",
		AdditionalProperties: &jsonschema.Schema{
			Type: "array",
			Items: &jsonschema.Schema{
				Type:       "object",
				Properties: props,
				Required:   []string{idKey},
			},
		},
	}
}
