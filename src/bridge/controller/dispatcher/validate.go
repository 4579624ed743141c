package dispatcher

import (
	"encoding/json"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
)

const (
	_errMissingParam = "missing required parameter %q"
	_errParamType    = "parameter %q must be a %s"
)

// validate checks cmd against the input schema of its tool. Parameters the schema does not
// describe are ignored.
func validate(tool mcp.Tool, cmd entity.Command) error {
	for _, name := range tool.InputSchema.Required {
		if _, ok := cmd.Param(name); !ok {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, _errMissingParam, name)
		}
	}

	for name, prop := range tool.InputSchema.Properties {
		value, ok := cmd.Param(name)
		if !ok {
			continue
		}
		schema, _ := prop.(map[string]any)
		if err := validateValue(name, schema, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, schema map[string]any, value interface{}) error {
	switch schema["type"] {
	case "string":
		if _, ok := value.(string); !ok {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, _errParamType, name, "string")
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, _errParamType, name, "boolean")
		}
	case "number":
		n, ok := toFloat(value)
		if !ok {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, _errParamType, name, "number")
		}
		if step, ok := schema["multipleOf"]; ok && step == 1 && n != math.Trunc(n) {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, _errParamType, name, "whole number")
		}
		if min, ok := schema["minimum"].(float64); ok && n < min {
			return bridgeerrors.New(bridgeerrors.KindInvalidParams, "parameter %q must be at least %v, got %v", name, min, n)
		}
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
