// ABOUTME: Envelope JSON schema compiled by the santhosh-tekuri/jsonschema/v5 library
// ABOUTME: Satisfies spec.md's "JSON-schema compilation" external collaborator concretely

package dwnmessage

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// EnvelopeSchemaResource is the resource name the compiled schema is
// registered under.
const EnvelopeSchemaResource = "dwn://schema/envelope.json"

// envelopeSchemaJSON is the JSON schema for the wire envelope of
// spec.md §6.
const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["recordId", "descriptor", "authorization"],
  "properties": {
    "recordId": {"type": "string", "minLength": 1},
    "contextId": {"type": "string"},
    "lineageParent": {"type": "string"},
    "encodedData": {"type": "string"},
    "descriptor": {
      "type": "object",
      "required": ["method", "recipient", "schema", "dataCid", "dataFormat", "dateCreated", "dateModified"],
      "properties": {
        "method": {"const": "CollectionsWrite"},
        "recipient": {"type": "string", "minLength": 1},
        "schema": {"type": "string", "minLength": 1},
        "protocol": {"type": "string"},
        "parentId": {"type": "string"},
        "dataCid": {"type": "string", "minLength": 1},
        "dataFormat": {"type": "string", "minLength": 1},
        "dateCreated": {"type": "string", "minLength": 1},
        "dateModified": {"type": "string", "minLength": 1},
        "published": {"type": "boolean"},
        "datePublished": {"type": "string"}
      }
    },
    "authorization": {
      "type": "object",
      "required": ["payload", "signatures"],
      "properties": {
        "payload": {"type": "string", "minLength": 1},
        "signatures": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["protected", "signature"],
            "properties": {
              "protected": {"type": "string", "minLength": 1},
              "signature": {"type": "string", "minLength": 1}
            }
          }
        }
      }
    }
  }
}`

// CompileEnvelopeSchema compiles the built-in envelope schema.
func CompileEnvelopeSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(EnvelopeSchemaResource, bytes.NewReader([]byte(envelopeSchemaJSON))); err != nil {
		return nil, fmt.Errorf("dwnmessage: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(EnvelopeSchemaResource)
	if err != nil {
		return nil, fmt.Errorf("dwnmessage: compile envelope schema: %w", err)
	}
	return schema, nil
}
