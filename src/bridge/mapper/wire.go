package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	"go.lsp.dev/jsonrpc2"
)

// WireError is the error member of a response envelope.
type WireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// WireResult is the id-less response envelope used by the HTTP transport.
type WireResult struct {
	Result interface{} `json:"result,omitempty"`
	Error  *WireError  `json:"error,omitempty"`
}

// MarshalJSON keeps "result" present, as null, on a success without a payload.
func (w WireResult) MarshalJSON() ([]byte, error) {
	if w.Error != nil {
		return json.Marshal(struct {
			Error *WireError `json:"error"`
		}{w.Error})
	}
	return json.Marshal(struct {
		Result interface{} `json:"result"`
	}{w.Result})
}

// ToolResultToWire maps a ToolResult into its wire envelope.
func ToolResultToWire(r entity.ToolResult) WireResult {
	if r.Err != nil {
		return WireResult{Error: &WireError{Code: r.Err.Code, Message: r.Err.Message}}
	}
	return WireResult{Result: r.Result}
}

// WireToToolResult decodes an envelope produced by ToolResultToWire.
// The result payload is kept as raw JSON.
func WireToToolResult(body []byte) (entity.ToolResult, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *WireError      `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return entity.ToolResult{}, wrapErrParse(err)
	}
	if envelope.Error != nil {
		return entity.ToolResult{Err: &entity.ToolError{
			Kind:    CodeToKind(envelope.Error.Code),
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
		}}, nil
	}
	if len(envelope.Result) == 0 {
		return entity.Success(nil), nil
	}
	return entity.Success(envelope.Result), nil
}

func wrapErrParse(err error) error {
	return fmt.Errorf("%s: %w", jsonrpc2.ErrParse, err)
}
