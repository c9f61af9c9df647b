package tradovate

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// orderSchema guards the ingestion boundary: the reconciler and cache
// treat missing identity fields as programming errors, so they are
// rejected here instead. Shape-shifting value fields stay permissive;
// only identity and lifecycle fields are required.
const orderSchema = `{
	"type": "object",
	"required": ["id", "action"],
	"properties": {
		"id": {"type": "integer", "minimum": 1},
		"action": {"type": "string", "minLength": 1},
		"ordStatus": {"type": "string"},
		"status": {"type": "string"},
		"orderType": {"type": "string"},
		"ordType": {"type": "string"}
	}
}`

var (
	orderSchemaOnce     sync.Once
	orderSchemaCompiled *jsonschema.Schema
	orderSchemaErr      error
)

func compiledOrderSchema() (*jsonschema.Schema, error) {
	orderSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("order.json", strings.NewReader(orderSchema)); err != nil {
			orderSchemaErr = err
			return
		}
		orderSchemaCompiled, orderSchemaErr = compiler.Compile("order.json")
	})
	return orderSchemaCompiled, orderSchemaErr
}

func validateOrderPayload(item map[string]any) error {
	schema, err := compiledOrderSchema()
	if err != nil {
		return err
	}
	return schema.Validate(normalizeForSchema(item))
}

// normalizeForSchema converts json.Number-free decoded maps into the
// plain any tree jsonschema expects; float ids from encoding/json are
// accepted as integers when they have no fractional part.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeForSchema(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeForSchema(child)
		}
		return out
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return v
	}
}
