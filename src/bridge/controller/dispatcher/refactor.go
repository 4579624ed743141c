package dispatcher

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	bridgeprotocol "github.com/uber/lsp-bridge/src/bridge/internal/protocol"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

const (
	_methodCodeActionResolve = "codeAction/resolve"
	_diffContextLines        = 2
)

// workspaceEdit tolerates resource operations in documentChanges, which the protocol
// package cannot decode.
type workspaceEdit struct {
	Changes         map[protocol.DocumentURI][]protocol.TextEdit `json:"changes,omitempty"`
	DocumentChanges []json.RawMessage                            `json:"documentChanges,omitempty"`
}

type documentChange struct {
	Kind         string `json:"kind"`
	TextDocument struct {
		URI protocol.DocumentURI `json:"uri"`
	} `json:"textDocument"`
	Edits []protocol.TextEdit `json:"edits"`
}

type codeAction struct {
	Title string                  `json:"title"`
	Kind  protocol.CodeActionKind `json:"kind,omitempty"`
	Edit  *workspaceEdit          `json:"edit,omitempty"`
	// Command is a string for a bare Command and an object for a CodeAction.
	Command json.RawMessage `json:"command,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type fileChange struct {
	File  string `json:"file"`
	Edits int    `json:"edits"`
	Diff  string `json:"diff"`
}

type renameResult struct {
	NewName    string       `json:"new_name"`
	Files      []fileChange `json:"files"`
	TotalEdits int          `json:"total_edits"`
}

type actionResult struct {
	Title string       `json:"title"`
	Kind  string       `json:"kind,omitempty"`
	Files []fileChange `json:"files"`
}

type codeActionsResult struct {
	File    string         `json:"file"`
	Actions []actionResult `json:"actions"`
}

func (c *controller) rename(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}
	newName, _ := stringParam(cmd, _paramNewName)
	params := &protocol.RenameParams{TextDocumentPositionParams: pos, NewName: newName}

	var edit *workspaceEdit
	if err := c.request(ctx, protocol.MethodTextDocumentRename, params, &edit); err != nil {
		return nil, err
	}

	files, total, err := c.preview(edit)
	if err != nil {
		return nil, err
	}
	return renameResult{NewName: newName, Files: files, TotalEdits: total}, nil
}

func (c *controller) extractFunction(ctx context.Context, cmd entity.Command) (interface{}, error) {
	startLine, _ := intParam(cmd, _paramStartLine)
	startColumn, _ := intParam(cmd, _paramStartColumn)
	endLine, _ := intParam(cmd, _paramEndLine)
	endColumn, _ := intParam(cmd, _paramEndColumn)

	start, err := mapper.ToolPosition(startLine, startColumn)
	if err != nil {
		return nil, err
	}
	end, err := mapper.ToolPosition(endLine, endColumn)
	if err != nil {
		return nil, err
	}
	if end.Line < start.Line || (end.Line == start.Line && end.Character < start.Character) {
		return nil, bridgeerrors.New(bridgeerrors.KindInvalidParams, "range end %d:%d precedes start %d:%d", endLine, endColumn, startLine, startColumn)
	}

	file, _ := stringParam(cmd, _paramFile)
	return c.codeActionsFor(ctx, file, protocol.Range{Start: start, End: end}, protocol.RefactorExtract)
}

func (c *controller) inline(ctx context.Context, cmd entity.Command) (interface{}, error) {
	pos, err := c.positionParams(cmd)
	if err != nil {
		return nil, err
	}
	file, _ := stringParam(cmd, _paramFile)
	return c.codeActionsFor(ctx, file, protocol.Range{Start: pos.Position, End: pos.Position}, protocol.RefactorInline)
}

func (c *controller) organizeImports(ctx context.Context, cmd entity.Command) (interface{}, error) {
	file, _ := stringParam(cmd, _paramFile)
	content, err := c.fs.ReadFile(mapper.ResolveFile(c.root(), file))
	if err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.KindInvalidParams, err, "reading %s", file)
	}
	lines := bridgeprotocol.NewTextOffsetMapper(content).LineCount()
	whole := protocol.Range{End: protocol.Position{Line: uint32(lines)}}
	return c.codeActionsFor(ctx, file, whole, protocol.SourceOrganizeImports)
}

func (c *controller) codeActionsFor(ctx context.Context, file string, rng protocol.Range, kind protocol.CodeActionKind) (codeActionsResult, error) {
	actions, err := c.codeActions(ctx, file, rng, []protocol.CodeActionKind{kind}, nil, true)
	if err != nil {
		return codeActionsResult{}, err
	}

	result := codeActionsResult{File: file, Actions: make([]actionResult, 0, len(actions))}
	for _, action := range actions {
		files, _, err := c.preview(action.Edit)
		if err != nil {
			return codeActionsResult{}, err
		}
		result.Actions = append(result.Actions, actionResult{
			Title: action.Title,
			Kind:  string(action.Kind),
			Files: files,
		})
	}
	return result, nil
}

// codeActions requests the actions for a range. With resolve set, actions returned without an
// edit are resolved. Bare commands are dropped.
func (c *controller) codeActions(ctx context.Context, file string, rng protocol.Range, only []protocol.CodeActionKind, diagnostics []protocol.Diagnostic, resolve bool) ([]codeAction, error) {
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	params := &protocol.CodeActionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: mapper.DocumentURI(c.root(), file)},
		Range:        rng,
		Context:      protocol.CodeActionContext{Diagnostics: diagnostics, Only: only},
	}

	var raws []json.RawMessage
	if err := c.request(ctx, protocol.MethodTextDocumentCodeAction, params, &raws); err != nil {
		return nil, err
	}

	actions := make([]codeAction, 0, len(raws))
	for _, raw := range raws {
		var action codeAction
		if err := json.Unmarshal(raw, &action); err != nil {
			return nil, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding code action")
		}
		if strings.HasPrefix(strings.TrimSpace(string(action.Command)), `"`) {
			continue
		}
		if resolve && action.Edit == nil && len(action.Data) > 0 {
			var resolved codeAction
			if err := c.request(ctx, _methodCodeActionResolve, raw, &resolved); err != nil {
				return nil, err
			}
			action.Edit = resolved.Edit
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// preview renders a workspace edit as per-file diffs without touching the files.
func (c *controller) preview(edit *workspaceEdit) ([]fileChange, int, error) {
	files := []fileChange{}
	if edit == nil {
		return files, 0, nil
	}

	byURI := make(map[protocol.DocumentURI][]protocol.TextEdit)
	for u, edits := range edit.Changes {
		byURI[u] = append(byURI[u], edits...)
	}
	for _, raw := range edit.DocumentChanges {
		var change documentChange
		if err := json.Unmarshal(raw, &change); err != nil {
			return nil, 0, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "decoding document change")
		}
		if change.Kind != "" {
			// create, rename and delete operations carry no text edits
			continue
		}
		byURI[change.TextDocument.URI] = append(byURI[change.TextDocument.URI], change.Edits...)
	}

	uris := make([]protocol.DocumentURI, 0, len(byURI))
	for u := range byURI {
		uris = append(uris, u)
	}
	sort.Slice(uris, func(i, j int) bool { return uris[i] < uris[j] })

	total := 0
	for _, u := range uris {
		edits := byURI[u]
		path := uri.URI(u).Filename()
		change := fileChange{File: path, Edits: len(edits)}
		total += len(edits)

		if content, err := c.fs.ReadFile(path); err == nil {
			updated, err := bridgeprotocol.ApplyTextEdits(content, edits)
			if err != nil {
				return nil, 0, bridgeerrors.Wrap(bridgeerrors.KindProtocol, err, "applying edits to %s", path)
			}
			change.Diff = lineDiff(string(content), string(updated))
		}
		files = append(files, change)
	}
	return files, total, nil
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// lineDiff returns a line-oriented diff of before and after, keeping a few lines of
// context around each change.
func lineDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var lines []diffLine
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			lines = append(lines, diffLine{op: d.Type, text: strings.TrimSuffix(line, "\n")})
		}
	}

	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.op == diffmatchpatch.DiffEqual {
			continue
		}
		for j := i - _diffContextLines; j <= i+_diffContextLines; j++ {
			if j >= 0 && j < len(lines) {
				keep[j] = true
			}
		}
	}

	var sb strings.Builder
	skipped := false
	for i, l := range lines {
		if !keep[i] {
			skipped = true
			continue
		}
		if skipped && sb.Len() > 0 {
			sb.WriteString("...\n")
		}
		skipped = false
		switch l.op {
		case diffmatchpatch.DiffDelete:
			sb.WriteString("-")
		case diffmatchpatch.DiffInsert:
			sb.WriteString("+")
		default:
			sb.WriteString(" ")
		}
		sb.WriteString(l.text)
		sb.WriteString("\n")
	}
	return sb.String()
}
