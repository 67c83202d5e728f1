package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

// GenerateSchema reflects the input schema of an argument struct.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}

// decodeArgs unmarshals the invocation arguments; empty arguments decode to
// the zero value.
func decodeArgs[T any](inv tooltypes.Invocation) (T, error) {
	var v T
	if len(inv.Args) == 0 || string(inv.Args) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(inv.Args, &v); err != nil {
		return v, errors.Wrap(err, "invalid arguments")
	}
	return v, nil
}
