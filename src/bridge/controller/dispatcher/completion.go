package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

var _snippets = map[string]string{
	"match_expr": "match ${1:expression} {\n    ${2:pattern} => ${3:value},\n    _ => ${4:default},\n}",
	"if_let":     "if let ${1:Some(value)} = ${2:expression} {\n    ${3:// body}\n}",
	"for_loop":   "for ${1:item} in ${2:iterator} {\n    ${3:// body}\n}",
	"impl_trait": "impl ${1:Trait} for ${2:Type} {\n    ${3:// implementation}\n}",
	"test_fn":    "#[test]\nfn ${1:test_name}() {\n    ${2:// test body}\n}",
}

func snippetNames() []string {
	names := make([]string, 0, len(_snippets))
	for name := range _snippets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type completionItem struct {
	Label  string `json:"label"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type completeResult struct {
	File         string           `json:"file"`
	Position     position         `json:"position"`
	Completions  []completionItem `json:"completions"`
	IsIncomplete bool             `json:"is_incomplete"`
}

type signatureInfo struct {
	Label         string   `json:"label"`
	Documentation string   `json:"documentation,omitempty"`
	Parameters    []string `json:"parameters"`
}

type signatureHelpResult struct {
	File            string          `json:"file"`
	Position        position        `json:"position"`
	Signatures      []signatureInfo `json:"signatures"`
	ActiveSignature uint32          `json:"active_signature"`
	ActiveParameter uint32          `json:"active_parameter"`
}

type getCompletionsResult struct {
	Context     string           `json:"context"`
	Query       string           `json:"query"`
	Suggestions []completionItem `json:"suggestions"`
}

type importSuggestion struct {
	Path      string              `json:"path"`
	Statement string              `json:"statement"`
	Kind      string              `json:"kind"`
	Location  mapper.ToolLocation `json:"location"`
}

type resolveImportResult struct {
	Symbol  string             `json:"symbol"`
	Imports []importSuggestion `json:"imports"`
}

type snippetResult struct {
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
}

func (c *controller) complete(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.request(ctx, protocol.MethodTextDocumentCompletion, &protocol.CompletionParams{TextDocumentPositionParams: pos}, &raw); err != nil {
		return nil, err
	}

	// The engine answers with either a CompletionList or a bare list of items.
	var list protocol.CompletionList
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding completion list")
		}
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &list.Items); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding completion items")
		}
	}

	file, _ := stringParam(cmd, _paramFile)
	return completeResult{
		File:         file,
		Position:     echoPosition(cmd),
		Completions:  completionItems(list.Items),
		IsIncomplete: list.IsIncomplete,
	}, nil
}

func (c *controller) signatureHelp(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}

	var help *protocol.SignatureHelp
	if err := c.request(ctx, protocol.MethodTextDocumentSignatureHelp, &protocol.SignatureHelpParams{TextDocumentPositionParams: pos}, &help); err != nil {
		return nil, err
	}

	file, _ := stringParam(cmd, _paramFile)
	result := signatureHelpResult{File: file, Position: echoPosition(cmd), Signatures: []signatureInfo{}}
	if help == nil {
		return result, nil
	}

	result.ActiveSignature = help.ActiveSignature
	result.ActiveParameter = help.ActiveParameter
	for _, sig := range help.Signatures {
		info := signatureInfo{
			Label:         sig.Label,
			Documentation: documentationText(sig.Documentation),
			Parameters:    make([]string, 0, len(sig.Parameters)),
		}
		for _, p := range sig.Parameters {
			info.Parameters = append(info.Parameters, p.Label)
		}
		result.Signatures = append(result.Signatures, info)
	}
	return result, nil
}

func (c *controller) getCompletions(ctx context.Context, cmd entity.Command) (interface{}, error) {
	fragment, _ := stringParam(cmd, _paramContext)
	query := trailingIdentifier(fragment)
	if query == "" {
		return nil, bridgeerrors.New(bridgeerrors.KindInvalidParams, "context %q does not end with an identifier", fragment)
	}

	symbols, err := c.workspaceSymbols(ctx, query)
	if err != nil {
		return nil, err
	}

	result := getCompletionsResult{Context: fragment, Query: query, Suggestions: make([]completionItem, 0, len(symbols))}
	for _, s := range symbols {
		result.Suggestions = append(result.Suggestions, completionItem{
			Label:  s.Name,
			Kind:   s.Kind.String(),
			Detail: s.ContainerName,
		})
	}
	return result, nil
}

func (c *controller) resolveImport(ctx context.Context, cmd entity.Command) (interface{}, error) {
	name, _ := stringParam(cmd, _paramSymbol)
	symbols, err := c.workspaceSymbols(ctx, name)
	if err != nil {
		return nil, err
	}

	result := resolveImportResult{Symbol: name, Imports: []importSuggestion{}}
	seen := make(map[string]bool)
	for _, s := range symbols {
		if s.Name != name {
			continue
		}
		path := c.importPath(s)
		if seen[path] {
			continue
		}
		seen[path] = true
		result.Imports = append(result.Imports, importSuggestion{
			Path:      path,
			Statement: fmt.Sprintf("use %s;", path),
			Kind:      s.Kind.String(),
			Location:  mapper.LocationToTool(s.Location),
		})
	}
	return result, nil
}

func (c *controller) expandSnippet(cmd entity.Command) (interface{}, error) {
	name, _ := stringParam(cmd, _paramName)
	snippet, ok := _snippets[name]
	if !ok {
		return nil, bridgeerrors.New(bridgeerrors.KindInvalidParams, "Unknown snippet: %s", name)
	}
	return snippetResult{Name: name, Snippet: snippet}, nil
}

// importPath derives a use path for s. Symbols inside the project get a crate-relative
// path built from their file location under src/.
func (c *controller) importPath(s protocol.SymbolInformation) string {
	file := uri.URI(s.Location.URI).Filename()
	rel, err := filepath.Rel(filepath.Join(c.root(), "src"), file)
	if err != nil || strings.HasPrefix(rel, "..") {
		if s.ContainerName != "" {
			return s.ContainerName + "::" + s.Name
		}
		return s.Name
	}

	segments := []string{"crate"}
	parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, filepath.Ext(rel))), "/")
	for i, part := range parts {
		last := i == len(parts)-1
		if last && (part == "mod" || part == "lib" || part == "main") {
			continue
		}
		segments = append(segments, part)
	}
	segments = append(segments, s.Name)
	return strings.Join(segments, "::")
}

func completionItems(items []protocol.CompletionItem) []completionItem {
	out := make([]completionItem, 0, len(items))
	for _, item := range items {
		ci := completionItem{Label: item.Label, Detail: item.Detail}
		if item.Kind != 0 {
			ci.Kind = item.Kind.String()
		}
		out = append(out, ci)
	}
	return out
}

// trailingIdentifier returns the identifier fragment ends with, ignoring a trailing path separator.
func trailingIdentifier(fragment string) string {
	s := strings.TrimRightFunc(fragment, unicode.IsSpace)
	s = strings.TrimRight(s, ":.")
	end := len(s)
	start := end
	for start > 0 {
		r := rune(s[start-1])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		start--
	}
	return s[start:end]
}
