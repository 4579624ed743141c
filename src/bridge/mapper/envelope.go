package mapper

import (
	"bytes"
	"encoding/json"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
)

// Version keys accepted on line and HTTP requests.
const (
	KeyJSONRPC = "jsonrpc"
	KeyVersion = "version"

	_version = "2.0"
)

// Request is a line-protocol request. Either "jsonrpc" or "version" may carry the version.
type Request struct {
	JSONRPC *string         `json:"jsonrpc"`
	Version *string         `json:"version"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// VersionKey returns the key the response must use to echo the request's version.
func (r Request) VersionKey() string {
	if r.JSONRPC == nil && r.Version != nil {
		return KeyVersion
	}
	return KeyJSONRPC
}

// IsNotification reports whether the request carries no id and expects no response.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

// RequestToCommand builds the Command named by a request.
func RequestToCommand(r Request) (entity.Command, error) {
	if r.Method == "" {
		return entity.Command{}, bridgeerrors.New(bridgeerrors.KindMethodNotFound, "request has no method")
	}
	params, err := ParamsToMap(r.Params)
	if err != nil {
		return entity.Command{}, err
	}
	return entity.NewCommand(r.Method, params), nil
}

// ParamsToMap decodes a params member. Absent or null params are an empty object.
func ParamsToMap(raw []byte) (map[string]interface{}, error) {
	params := make(map[string]interface{})
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(trimmed, &params); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInvalidParams, err, "params must be an object")
	}
	return params, nil
}

// ToolResultToResponse encodes a line-protocol response for the request identified by id.
func ToolResultToResponse(versionKey string, id json.RawMessage, r entity.ToolResult) ([]byte, error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := map[string]interface{}{
		versionKey: _version,
		"id":       id,
	}
	wire := ToolResultToWire(r)
	if wire.Error != nil {
		resp["error"] = wire.Error
	} else {
		resp["result"] = wire.Result
	}
	return json.Marshal(resp)
}

// ParseErrorResponse is the response to a request that could not be decoded.
func ParseErrorResponse(err error) []byte {
	result := ErrorToToolResult(bridgeerrors.Wrap(bridgeerrors.KindParseError, err, "parse error"))
	data, _ := ToolResultToResponse(KeyJSONRPC, nil, result)
	return data
}
