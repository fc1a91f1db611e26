package assistant

import (
	"github.com/invopop/jsonschema"
)

// RequestSchema describes the request body sent to the backend.
func RequestSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(Request{})
}

// ResponseSchema describes the reply the backend is expected to send.
func ResponseSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, AllowAdditionalProperties: true, RequiredFromJSONSchemaTags: true}
	return reflector.Reflect(Response{})
}
