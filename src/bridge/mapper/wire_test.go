package mapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
)

func TestToolResultToWire(t *testing.T) {
	tests := []struct {
		name   string
		result entity.ToolResult
		want   string
	}{
		{
			name:   "success",
			result: entity.Success(map[string]int{"count": 2}),
			want:   `{"result":{"count":2}}`,
		},
		{
			name:   "success without payload keeps result",
			result: entity.Success(nil),
			want:   `{"result":null}`,
		},
		{
			name:   "failure",
			result: ErrorToToolResult(bridgeerrors.New(bridgeerrors.KindEngineTimeout, "request timed out")),
			want:   `{"error":{"code":-32001,"message":"request timed out"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(ToolResultToWire(tt.result))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(body))
		})
	}
}

func TestWireToToolResult(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r, err := WireToToolResult([]byte(`{"result":{"contents":"fn main()"}}`))
		require.NoError(t, err)
		require.True(t, r.OK())
		assert.JSONEq(t, `{"contents":"fn main()"}`, string(r.Result.(json.RawMessage)))
	})

	t.Run("failure keeps kind", func(t *testing.T) {
		r, err := WireToToolResult([]byte(`{"error":{"code":-32602,"message":"missing parameter \"file\""}}`))
		require.NoError(t, err)
		require.False(t, r.OK())
		assert.Equal(t, bridgeerrors.KindInvalidParams, r.Err.Kind)
		assert.Equal(t, int64(-32602), r.Err.Code)
	})

	t.Run("empty object", func(t *testing.T) {
		r, err := WireToToolResult([]byte(`{}`))
		require.NoError(t, err)
		assert.True(t, r.OK())
		assert.Nil(t, r.Result)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := WireToToolResult([]byte(`<html>`))
		assert.ErrorContains(t, err, "parse error")
	})
}
