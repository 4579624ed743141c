package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

type symbolMatch struct {
	Name      string              `json:"name"`
	Kind      string              `json:"kind"`
	Container string              `json:"container,omitempty"`
	Location  mapper.ToolLocation `json:"location"`
}

type analyzeSymbolResult struct {
	Symbol  string        `json:"symbol"`
	Matches []symbolMatch `json:"matches"`
	Total   int           `json:"total"`
}

type locationsResult struct {
	File     string   `json:"file"`
	Position position `json:"position"`
	Total    int      `json:"total"`
}

type referencesResult struct {
	locationsResult
	References []mapper.ToolLocation `json:"references"`
}

type implementationsResult struct {
	locationsResult
	Implementations []mapper.ToolLocation `json:"implementations"`
}

type hoverResult struct {
	Contents string `json:"contents"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

type toolDiagnostic struct {
	mapper.ToolLocation
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
}

type diagnosticsResult struct {
	File        *string          `json:"file"`
	Diagnostics []toolDiagnostic `json:"diagnostics"`
	Total       int              `json:"total"`
}

func (c *controller) workspaceSymbols(ctx context.Context, query string) ([]protocol.SymbolInformation, error) {
	var symbols []protocol.SymbolInformation
	if err := c.request(ctx, protocol.MethodWorkspaceSymbol, &protocol.WorkspaceSymbolParams{Query: query}, &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (c *controller) analyzeSymbol(ctx context.Context, cmd entity.Command) (interface{}, error) {
	name, _ := stringParam(cmd, _paramName)
	symbols, err := c.workspaceSymbols(ctx, name)
	if err != nil {
		return nil, err
	}

	// Exact matches first, then engine order.
	sort.SliceStable(symbols, func(i, j int) bool {
		return symbols[i].Name == name && symbols[j].Name != name
	})

	result := analyzeSymbolResult{Symbol: name, Matches: make([]symbolMatch, 0, len(symbols))}
	for _, s := range symbols {
		result.Matches = append(result.Matches, symbolMatch{
			Name:      s.Name,
			Kind:      s.Kind.String(),
			Container: s.ContainerName,
			Location:  mapper.LocationToTool(s.Location),
		})
	}
	result.Total = len(result.Matches)
	return result, nil
}

func (c *controller) findReferences(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}
	params := &protocol.ReferenceParams{
		TextDocumentPositionParams: pos,
		Context: protocol.ReferenceContext{
			IncludeDeclaration: boolParam(cmd, _paramIncludeDeclaration, true),
		},
	}

	var locations []protocol.Location
	if err := c.request(ctx, protocol.MethodTextDocumentReferences, params, &locations); err != nil {
		return nil, err
	}

	refs := toolLocations(locations)
	file, _ := stringParam(cmd, _paramFile)
	return referencesResult{
		locationsResult: locationsResult{File: file, Position: echoPosition(cmd), Total: len(refs)},
		References:      refs,
	}, nil
}

func (c *controller) getHover(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}

	var hover struct {
		Contents json.RawMessage `json:"contents"`
	}
	if err := c.request(ctx, protocol.MethodTextDocumentHover, &protocol.HoverParams{TextDocumentPositionParams: pos}, &hover); err != nil {
		return nil, err
	}

	file, _ := stringParam(cmd, _paramFile)
	p := echoPosition(cmd)
	return hoverResult{
		Contents: markupText(hover.Contents),
		File:     file,
		Line:     p.Line,
		Column:   p.Column,
	}, nil
}

func (c *controller) findImplementations(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.request(ctx, protocol.MethodTextDocumentImplementation, &protocol.ImplementationParams{TextDocumentPositionParams: pos}, &raw); err != nil {
		return nil, err
	}
	locations, err := decodeLocations(raw)
	if err != nil {
		return nil, err
	}

	impls := toolLocations(locations)
	file, _ := stringParam(cmd, _paramFile)
	return implementationsResult{
		locationsResult: locationsResult{File: file, Position: echoPosition(cmd), Total: len(impls)},
		Implementations: impls,
	}, nil
}

func (c *controller) getDiagnostics(cmd entity.Command) (interface{}, error) {
	all := c.engine.Diagnostics()
	result := diagnosticsResult{Diagnostics: []toolDiagnostic{}}

	if file, ok := stringParam(cmd, _paramFile); ok {
		result.File = &file
		result.Diagnostics = append(result.Diagnostics, toolDiagnostics(mapper.DocumentURI(c.root(), file), all[mapper.DocumentURI(c.root(), file)])...)
	} else {
		for _, u := range sortedURIs(all) {
			result.Diagnostics = append(result.Diagnostics, toolDiagnostics(u, all[u])...)
		}
	}
	result.Total = len(result.Diagnostics)
	return result, nil
}

func toolLocations(locations []protocol.Location) []mapper.ToolLocation {
	out := make([]mapper.ToolLocation, 0, len(locations))
	for _, loc := range locations {
		out = append(out, mapper.LocationToTool(loc))
	}
	return out
}

func toolDiagnostics(u protocol.DocumentURI, diagnostics []protocol.Diagnostic) []toolDiagnostic {
	out := make([]toolDiagnostic, 0, len(diagnostics))
	for _, d := range diagnostics {
		out = append(out, toolDiagnostic{
			ToolLocation: mapper.RangeToTool(u, d.Range),
			Severity:     severityName(d.Severity),
			Code:         diagnosticCode(d),
			Source:       d.Source,
			Message:      d.Message,
		})
	}
	return out
}

func severityName(s protocol.DiagnosticSeverity) string {
	if s == 0 {
		return "error"
	}
	return strings.ToLower(s.String())
}

func diagnosticCode(d protocol.Diagnostic) string {
	switch code := d.Code.(type) {
	case nil:
		return ""
	case string:
		return code
	case float64:
		return fmt.Sprintf("%d", int64(code))
	default:
		return fmt.Sprint(code)
	}
}

func sortedURIs(m map[protocol.DocumentURI][]protocol.Diagnostic) []protocol.DocumentURI {
	uris := make([]protocol.DocumentURI, 0, len(m))
	for u := range m {
		uris = append(uris, u)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })
	return uris
}

// decodeLocations accepts every shape a location request may return: null, a single
// Location, a list of Locations or a list of LocationLinks.
func decodeLocations(raw json.RawMessage) ([]protocol.Location, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "{") {
		var loc protocol.Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding location")
		}
		return []protocol.Location{loc}, nil
	}

	var items []struct {
		URI                  uri.URI         `json:"uri"`
		Range                *protocol.Range `json:"range"`
		TargetURI            uri.URI         `json:"targetUri"`
		TargetSelectionRange *protocol.Range `json:"targetSelectionRange"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding locations")
	}

	out := make([]protocol.Location, 0, len(items))
	for _, item := range items {
		switch {
		case item.Range != nil:
			out = append(out, protocol.Location{URI: item.URI, Range: *item.Range})
		case item.TargetSelectionRange != nil:
			out = append(out, protocol.Location{URI: item.TargetURI, Range: *item.TargetSelectionRange})
		}
	}
	return out, nil
}

// markupText flattens hover and documentation content, which may be a string,
// a MarkupContent, a MarkedString or a list of MarkedStrings.
func markupText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var content struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &content); err == nil && strings.HasPrefix(trimmed, "{") {
		return content.Value
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			if text := markupText(part); text != "" {
				texts = append(texts, text)
			}
		}
		return strings.Join(texts, "\n\n")
	}
	return ""
}

// documentationText flattens a documentation field decoded into an interface value.
func documentationText(doc interface{}) string {
	if doc == nil {
		return ""
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return markupText(raw)
}
