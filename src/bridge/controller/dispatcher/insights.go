package dispatcher

import (
	"context"
	"strings"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.lsp.dev/protocol"
)

const (
	_suggestionDiagnostic    = "diagnostic"
	_suggestionQuickFix      = "quickfix"
	_suggestionFormatting    = "formatting"
	_suggestionDocumentation = "documentation"
	_suggestionTesting       = "testing"
)

var _deadCodeCodes = map[string]bool{
	"dead_code":          true,
	"unused_imports":     true,
	"unused_variables":   true,
	"unused_mut":         true,
	"unused_assignments": true,
}

var _deadCodeMessages = []string{"never used", "never read", "never constructed"}

var _generalSuggestions = []suggestion{
	{Type: _suggestionFormatting, Message: "Run 'cargo fmt' to ensure consistent formatting"},
	{Type: _suggestionDocumentation, Message: "Consider adding documentation comments for public items"},
	{Type: _suggestionTesting, Message: "Add unit tests for critical functions"},
}

type deadCodeResult struct {
	Warnings      []toolDiagnostic `json:"dead_code_warnings"`
	TotalWarnings int              `json:"total_warnings"`
}

type suggestion struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    uint32 `json:"line,omitempty"`
	Column  uint32 `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
}

type suggestionsResult struct {
	File             *string        `json:"file"`
	Suggestions      []suggestion   `json:"suggestions"`
	TotalSuggestions int            `json:"total_suggestions"`
	Categories       map[string]int `json:"categories"`
}

func (c *controller) findDeadCode() (interface{}, error) {
	all := c.engine.Diagnostics()
	result := deadCodeResult{Warnings: []toolDiagnostic{}}
	for _, u := range sortedURIs(all) {
		for _, d := range toolDiagnostics(u, all[u]) {
			if isDeadCode(d) {
				result.Warnings = append(result.Warnings, d)
			}
		}
	}
	result.TotalWarnings = len(result.Warnings)
	return result, nil
}

func isDeadCode(d toolDiagnostic) bool {
	if _deadCodeCodes[d.Code] {
		return true
	}
	for _, m := range _deadCodeMessages {
		if strings.Contains(d.Message, m) {
			return true
		}
	}
	return false
}

func (c *controller) suggestImprovements(ctx context.Context, cmd entity.Command) (interface{}, error) {
	all := c.engine.Diagnostics()
	result := suggestionsResult{Suggestions: []suggestion{}, Categories: map[string]int{}}

	var uris []protocol.DocumentURI
	file, hasFile := stringParam(cmd, _paramFile)
	if hasFile {
		result.File = &file
		uris = []protocol.DocumentURI{mapper.DocumentURI(c.root(), file)}
	} else {
		uris = sortedURIs(all)
	}

	for _, u := range uris {
		for _, d := range toolDiagnostics(u, all[u]) {
			if d.Severity == "error" {
				continue
			}
			result.Suggestions = append(result.Suggestions, suggestion{
				Type:    _suggestionDiagnostic,
				Message: d.Message,
				File:    d.File,
				Line:    d.Line,
				Column:  d.Column,
				Code:    d.Code,
			})
		}
	}

	if hasFile {
		fixes, err := c.quickFixes(ctx, file, all[uris[0]])
		if err != nil {
			return nil, err
		}
		result.Suggestions = append(result.Suggestions, fixes...)
	}

	result.Suggestions = append(result.Suggestions, _generalSuggestions...)
	for _, s := range result.Suggestions {
		result.Categories[s.Type]++
	}
	result.TotalSuggestions = len(result.Suggestions)
	return result, nil
}

// quickFixes asks the engine for quick fixes covering each cached diagnostic of file.
func (c *controller) quickFixes(ctx context.Context, file string, diagnostics []protocol.Diagnostic) ([]suggestion, error) {
	var out []suggestion
	seen := make(map[string]bool)
	for _, d := range diagnostics {
		actions, err := c.codeActions(ctx, file, d.Range, []protocol.CodeActionKind{protocol.QuickFix}, []protocol.Diagnostic{d}, false)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if seen[a.Title] {
				continue
			}
			seen[a.Title] = true
			out = append(out, suggestion{
				Type:    _suggestionQuickFix,
				Message: a.Title,
				File:    mapper.ResolveFile(c.root(), file),
				Line:    d.Range.Start.Line + 1,
				Column:  d.Range.Start.Character + 1,
				Code:    diagnosticCode(d),
			})
		}
	}
	return out, nil
}
