package mapper

import (
	"path/filepath"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// ToolLocation is a 1-based source location as reported to tool callers.
type ToolLocation struct {
	File      string `json:"file"`
	Line      uint32 `json:"line"`
	Column    uint32 `json:"column"`
	EndLine   uint32 `json:"end_line"`
	EndColumn uint32 `json:"end_column"`
}

// ResolveFile returns file as an absolute path, resolving relative paths against root.
func ResolveFile(root, file string) string {
	if filepath.IsAbs(file) {
		return filepath.Clean(file)
	}
	return filepath.Join(root, file)
}

// DocumentURI returns the URI of file relative to root.
func DocumentURI(root, file string) protocol.DocumentURI {
	return uri.File(ResolveFile(root, file))
}

// ToolPosition converts a 1-based tool line and column into a protocol position.
func ToolPosition(line, column int) (protocol.Position, error) {
	if line < 1 || column < 1 {
		return protocol.Position{}, bridgeerrors.New(bridgeerrors.KindInvalidParams, "line and column are 1-based, got %d:%d", line, column)
	}
	return protocol.Position{Line: uint32(line - 1), Character: uint32(column - 1)}, nil
}

// ToolPositionToParams builds the position parameters shared by most textDocument requests.
func ToolPositionToParams(root, file string, line, column int) (protocol.TextDocumentPositionParams, error) {
	pos, err := ToolPosition(line, column)
	if err != nil {
		return protocol.TextDocumentPositionParams{}, err
	}
	return protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: DocumentURI(root, file)},
		Position:     pos,
	}, nil
}

// LocationToTool converts an engine location into a 1-based ToolLocation.
func LocationToTool(loc protocol.Location) ToolLocation {
	return RangeToTool(loc.URI, loc.Range)
}

// RangeToTool converts a document range into a 1-based ToolLocation.
func RangeToTool(u protocol.DocumentURI, r protocol.Range) ToolLocation {
	return ToolLocation{
		File:      uri.URI(u).Filename(),
		Line:      r.Start.Line + 1,
		Column:    r.Start.Character + 1,
		EndLine:   r.End.Line + 1,
		EndColumn: r.End.Character + 1,
	}
}

// ToolFailure is a shorthand for a failed ToolResult of the given kind.
func ToolFailure(kind bridgeerrors.Kind, format string, args ...interface{}) entity.ToolResult {
	return ErrorToToolResult(bridgeerrors.New(kind, format, args...))
}
