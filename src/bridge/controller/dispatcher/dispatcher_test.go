package dispatcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/controller/engine/enginemock"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/factory"
	bridgeerrors "github.com/uber/lsp-bridge/src/bridge/internal/errors"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/config"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type testDispatcher struct {
	*controller
	engine *enginemock.MockController
	root   string
	scope  tally.TestScope
}

func newTestDispatcher(t *testing.T) testDispatcher {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockController(ctrl)
	root := t.TempDir()
	eng.EXPECT().ProjectRoot().Return(root).AnyTimes()
	eng.EXPECT().Enabled().Return(true).AnyTimes()

	scope := tally.NewTestScope("testing", make(map[string]string))
	c := &controller{
		engine:  eng,
		fs:      fs.New(),
		logger:  zap.NewNop().Sugar(),
		stats:   scope,
		catalog: newCatalog(),
		timeout: time.Second,
	}
	return testDispatcher{controller: c, engine: eng, root: root, scope: scope}
}

func (d testDispatcher) writeFile(t *testing.T, rel, content string) string {
	path := filepath.Join(d.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// expectRequest answers one engine request with result encoded as JSON and captures its params.
func (d testDispatcher) expectRequest(t *testing.T, method string, result interface{}, params interface{}) {
	d.engine.EXPECT().Request(gomock.Any(), method, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, p interface{}, _ time.Duration) (json.RawMessage, error) {
			if params != nil {
				raw, err := json.Marshal(p)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(raw, params))
			}
			return json.Marshal(result)
		})
}

// decodeResult round-trips a successful result through JSON the way transports do.
func decodeResult(t *testing.T, r entity.ToolResult) map[string]interface{} {
	require.True(t, r.OK(), "unexpected failure: %+v", r.Err)
	raw, err := json.Marshal(r.Result)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func requireKind(t *testing.T, r entity.ToolResult, kind bridgeerrors.Kind) {
	require.NotNil(t, r.Err)
	assert.Equal(t, kind, r.Err.Kind, r.Err.Message)
}

func TestNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockController(ctrl)

	tests := []struct {
		name    string
		values  map[string]interface{}
		wantErr string
	}{
		{
			name:   "valid",
			values: map[string]interface{}{"dispatcher": map[string]interface{}{"timeout": "2s"}},
		},
		{
			name:    "missing timeout",
			values:  map[string]interface{}{},
			wantErr: `missing field "dispatcher.timeout" in config`,
		},
		{
			name:    "non-positive timeout",
			values:  map[string]interface{}{"dispatcher": map[string]interface{}{"timeout": "0s"}},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := config.NewStaticProvider(tt.values)
			require.NoError(t, err)
			c, err := New(Params{
				Config: provider,
				Logger: zap.NewNop().Sugar(),
				Stats:  tally.NoopScope,
				Engine: eng,
				FS:     fs.New(),
			})
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.Tools(), len(newCatalog().entries))
		})
	}
}

func TestDispatchValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     entity.Command
		kind    bridgeerrors.Kind
		message string
	}{
		{
			name:    "unknown command",
			cmd:     entity.NewCommand("frobnicate", nil),
			kind:    bridgeerrors.KindMethodNotFound,
			message: `unknown command "frobnicate"`,
		},
		{
			name:    "missing parameter",
			cmd:     entity.NewCommand(ToolGetHover, map[string]interface{}{"file": "src/lib.rs", "line": 1.0}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `missing required parameter "column"`,
		},
		{
			name:    "null counts as missing",
			cmd:     entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": nil}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `missing required parameter "name"`,
		},
		{
			name:    "wrong type",
			cmd:     entity.NewCommand(ToolGetHover, map[string]interface{}{"file": "src/lib.rs", "line": "one", "column": 1.0}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `parameter "line" must be a number`,
		},
		{
			name:    "fractional line",
			cmd:     entity.NewCommand(ToolGetHover, map[string]interface{}{"file": "src/lib.rs", "line": 1.5, "column": 1.0}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `parameter "line" must be a whole number`,
		},
		{
			name:    "line below one",
			cmd:     entity.NewCommand(ToolGetHover, map[string]interface{}{"file": "src/lib.rs", "line": 0.0, "column": 1.0}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `parameter "line" must be at least 1, got 0`,
		},
		{
			name:    "boolean flag",
			cmd:     entity.NewCommand(ToolFindReferences, map[string]interface{}{"file": "a.rs", "line": 1.0, "column": 1.0, "include_declaration": "yes"}),
			kind:    bridgeerrors.KindInvalidParams,
			message: `parameter "include_declaration" must be a boolean`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No Request expectation: validation failures never reach the engine.
			d := newTestDispatcher(t)
			r := d.Dispatch(context.Background(), tt.cmd)
			requireKind(t, r, tt.kind)
			assert.Equal(t, tt.message, r.Err.Message)
		})
	}
}

func TestDispatchMetrics(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(context.Background(), entity.NewCommand(ToolExpandSnippet, map[string]interface{}{"name": "if_let"}))
	d.Dispatch(context.Background(), entity.NewCommand(ToolExpandSnippet, map[string]interface{}{}))

	counters := d.scope.Snapshot().Counters()
	require.Contains(t, counters, "testing.success+command=expand_snippet")
	assert.Equal(t, int64(1), counters["testing.success+command=expand_snippet"].Value())
	assert.Equal(t, int64(1), counters["testing.errors+command=expand_snippet"].Value())
}

func TestEngineDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	eng := enginemock.NewMockController(ctrl)
	eng.EXPECT().Enabled().Return(false).AnyTimes()
	c := &controller{engine: eng, fs: fs.New(), logger: zap.NewNop().Sugar(), stats: tally.NoopScope, catalog: newCatalog(), timeout: time.Second}

	r := c.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Foo"}))
	requireKind(t, r, bridgeerrors.KindEngineNotReady)

	// Static commands keep working.
	r = c.Dispatch(context.Background(), entity.NewCommand(ToolExpandSnippet, map[string]interface{}{"name": "for_loop"}))
	assert.True(t, r.OK())
}

func TestDispatchTimeout(t *testing.T) {
	block := func(ctx context.Context, _ string, _ interface{}, timeout time.Duration) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	t.Run("default", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.timeout = 20 * time.Millisecond
		d.engine.EXPECT().Request(gomock.Any(), protocol.MethodWorkspaceSymbol, gomock.Any(), gomock.Any()).DoAndReturn(block)

		start := time.Now()
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Foo"}))
		requireKind(t, r, bridgeerrors.KindEngineTimeout)
		assert.Contains(t, r.Err.Message, "analyze_symbol timed out after 20ms")
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("timeout_ms override", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.timeout = time.Hour
		d.engine.EXPECT().Request(gomock.Any(), protocol.MethodWorkspaceSymbol, gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
				assert.LessOrEqual(t, timeout, 30*time.Millisecond)
				return block(ctx, method, params, timeout)
			})

		r := d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Foo", "timeout_ms": 30.0}))
		requireKind(t, r, bridgeerrors.KindEngineTimeout)
	})

	t.Run("huge timeout_ms is capped", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.engine.EXPECT().Request(gomock.Any(), protocol.MethodWorkspaceSymbol, gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, _ string, _ interface{}, timeout time.Duration) (json.RawMessage, error) {
				assert.Greater(t, timeout, _maxCommandTimeout-time.Minute)
				assert.LessOrEqual(t, timeout, _maxCommandTimeout)
				return json.RawMessage(`[]`), nil
			})

		r := d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Foo", "timeout_ms": 1e300}))
		assert.True(t, r.OK(), "got %+v", r.Err)
	})
}

func TestCommandTimeout(t *testing.T) {
	tests := []struct {
		ms   float64
		want time.Duration
	}{
		{ms: 1, want: time.Millisecond},
		{ms: 1500, want: 1500 * time.Millisecond},
		{ms: float64(_maxCommandTimeout / time.Millisecond), want: _maxCommandTimeout},
		{ms: 1e19, want: _maxCommandTimeout},
		{ms: 1e300, want: _maxCommandTimeout},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, commandTimeout(tt.ms), "timeout_ms %v", tt.ms)
	}
}

func TestEngineErrorsPassThrough(t *testing.T) {
	d := newTestDispatcher(t)
	engineErr := &bridgeerrors.BridgeError{Kind: bridgeerrors.KindEngineError, Code: -32801, Message: "content modified"}
	d.engine.EXPECT().Request(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, engineErr)

	r := d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Foo"}))
	requireKind(t, r, bridgeerrors.KindEngineError)
	assert.Equal(t, int64(-32801), r.Err.Code)
}

func TestAnalyzeSymbol(t *testing.T) {
	d := newTestDispatcher(t)
	lib := uri.File(filepath.Join(d.root, "src", "lib.rs"))
	var params protocol.WorkspaceSymbolParams
	d.expectRequest(t, protocol.MethodWorkspaceSymbol, []protocol.SymbolInformation{
		{Name: "ParserState", Kind: protocol.SymbolKindStruct, Location: protocol.Location{URI: lib}},
		{Name: "Parser", Kind: protocol.SymbolKindStruct, ContainerName: "parse", Location: protocol.Location{
			URI:   lib,
			Range: factory.Range(9, 4, 10),
		}},
	}, &params)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeSymbol, map[string]interface{}{"name": "Parser"})))
	assert.Equal(t, "Parser", params.Query)
	assert.Equal(t, 2.0, out["total"])

	matches := out["matches"].([]interface{})
	first := matches[0].(map[string]interface{})
	assert.Equal(t, "Parser", first["name"])
	assert.Equal(t, "Struct", first["kind"])
	assert.Equal(t, "parse", first["container"])
	loc := first["location"].(map[string]interface{})
	assert.Equal(t, 10.0, loc["line"])
	assert.Equal(t, 5.0, loc["column"])
}

func TestFindReferences(t *testing.T) {
	pos := map[string]interface{}{"file": "src/lib.rs", "line": 3.0, "column": 8.0}
	ref := protocol.Location{
		URI:   uri.File("/elsewhere/main.rs"),
		Range: factory.Range(0, 0, 3),
	}

	t.Run("declaration included by default", func(t *testing.T) {
		d := newTestDispatcher(t)
		var params protocol.ReferenceParams
		d.expectRequest(t, protocol.MethodTextDocumentReferences, []protocol.Location{ref, ref}, &params)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolFindReferences, pos)))
		assert.True(t, params.Context.IncludeDeclaration)
		assert.Equal(t, uri.File(filepath.Join(d.root, "src", "lib.rs")), params.TextDocument.URI)
		assert.Equal(t, protocol.Position{Line: 2, Character: 7}, params.Position)
		assert.Equal(t, 2.0, out["total"])
		assert.Equal(t, map[string]interface{}{"line": 3.0, "column": 8.0}, out["position"])
	})

	t.Run("declaration excluded", func(t *testing.T) {
		d := newTestDispatcher(t)
		var params protocol.ReferenceParams
		d.expectRequest(t, protocol.MethodTextDocumentReferences, nil, &params)

		withFlag := map[string]interface{}{"include_declaration": false}
		for k, v := range pos {
			withFlag[k] = v
		}
		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolFindReferences, withFlag)))
		assert.False(t, params.Context.IncludeDeclaration)
		assert.Equal(t, 0.0, out["total"])
		assert.Empty(t, out["references"])
	})
}

func TestGetHover(t *testing.T) {
	d := newTestDispatcher(t)
	d.expectRequest(t, protocol.MethodTextDocumentHover, map[string]interface{}{
		"contents": map[string]interface{}{"kind": "markdown", "value": "```rust\nfn parse()\n```"},
	}, nil)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolGetHover, map[string]interface{}{"file": "src/lib.rs", "line": 1.0, "column": 4.0})))
	assert.Equal(t, "```rust\nfn parse()\n```", out["contents"])
	assert.Equal(t, 1.0, out["line"])
	assert.Equal(t, 4.0, out["column"])
}

func TestMarkupText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "null", raw: `null`, want: ""},
		{name: "string", raw: `"plain"`, want: "plain"},
		{name: "markup content", raw: `{"kind":"plaintext","value":"text"}`, want: "text"},
		{name: "marked string", raw: `{"language":"rust","value":"fn a()"}`, want: "fn a()"},
		{name: "list", raw: `["one",{"language":"rust","value":"two"}]`, want: "one\n\ntwo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, markupText(json.RawMessage(tt.raw)))
		})
	}
}

func TestFindImplementations(t *testing.T) {
	loc := `{"uri":"file:///p/src/a.rs","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":4}}}`
	link := `{"targetUri":"file:///p/src/b.rs","targetRange":{"start":{"line":0,"character":0},"end":{"line":9,"character":1}},"targetSelectionRange":{"start":{"line":4,"character":5},"end":{"line":4,"character":8}}}`

	tests := []struct {
		name  string
		raw   string
		files []string
	}{
		{name: "null", raw: `null`},
		{name: "single location", raw: loc, files: []string{"/p/src/a.rs"}},
		{name: "location list", raw: "[" + loc + "," + loc + "]", files: []string{"/p/src/a.rs", "/p/src/a.rs"}},
		{name: "location links", raw: "[" + link + "]", files: []string{"/p/src/b.rs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t)
			d.engine.EXPECT().Request(gomock.Any(), protocol.MethodTextDocumentImplementation, gomock.Any(), gomock.Any()).
				Return(json.RawMessage(tt.raw), nil)

			out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolFindImplementations, map[string]interface{}{"file": "src/a.rs", "line": 2.0, "column": 1.0})))
			impls := out["implementations"].([]interface{})
			require.Len(t, impls, len(tt.files))
			for i, f := range tt.files {
				assert.Equal(t, f, impls[i].(map[string]interface{})["file"])
			}
		})
	}

	t.Run("link uses selection range", func(t *testing.T) {
		locs, err := decodeLocations(json.RawMessage("[" + link + "]"))
		require.NoError(t, err)
		require.Len(t, locs, 1)
		assert.Equal(t, uint32(4), locs[0].Range.Start.Line)
	})
}

func testDiagnostics(root string) map[protocol.DocumentURI][]protocol.Diagnostic {
	lib := uri.File(filepath.Join(root, "src", "lib.rs"))
	main := uri.File(filepath.Join(root, "src", "main.rs"))
	return map[protocol.DocumentURI][]protocol.Diagnostic{
		lib: {
			{
				Range:    factory.Range(4, 3, 9),
				Severity: protocol.DiagnosticSeverityWarning,
				Code:     "dead_code",
				Source:   "rustc",
				Message:  "function `helper` is never used",
			},
			{
				Range:    factory.Range(1, 0, 2),
				Severity: protocol.DiagnosticSeverityError,
				Code:     "E0308",
				Source:   "rustc",
				Message:  "mismatched types",
			},
		},
		main: {
			{
				Range:    factory.Range(0, 4, 5),
				Severity: protocol.DiagnosticSeverityWarning,
				Code:     "unused_variables",
				Source:   "rustc",
				Message:  "unused variable: `x`",
			},
			{
				Range:    factory.Range(2, 0, 1),
				Severity: protocol.DiagnosticSeverityHint,
				Message:  "consider using `if let`",
			},
		},
	}
}

func TestGetDiagnostics(t *testing.T) {
	t.Run("all files", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.engine.EXPECT().Diagnostics().Return(testDiagnostics(d.root))

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolGetDiagnostics, nil)))
		assert.Nil(t, out["file"])
		assert.Equal(t, 4.0, out["total"])
		first := out["diagnostics"].([]interface{})[0].(map[string]interface{})
		assert.Equal(t, filepath.Join(d.root, "src", "lib.rs"), first["file"])
		assert.Equal(t, "warning", first["severity"])
		assert.Equal(t, "dead_code", first["code"])
		assert.Equal(t, 5.0, first["line"])
		assert.Equal(t, 4.0, first["column"])
	})

	t.Run("one file", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.engine.EXPECT().Diagnostics().Return(testDiagnostics(d.root))

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolGetDiagnostics, map[string]interface{}{"file": "src/main.rs"})))
		assert.Equal(t, "src/main.rs", out["file"])
		assert.Equal(t, 2.0, out["total"])
	})
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name       string
		result     interface{}
		incomplete bool
	}{
		{
			name: "list",
			result: protocol.CompletionList{IsIncomplete: true, Items: []protocol.CompletionItem{
				{Label: "push", Kind: protocol.CompletionItemKindMethod, Detail: "fn(&mut self, T)"},
			}},
			incomplete: true,
		},
		{
			name:   "bare items",
			result: []protocol.CompletionItem{{Label: "push", Kind: protocol.CompletionItemKindMethod, Detail: "fn(&mut self, T)"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(t)
			d.expectRequest(t, protocol.MethodTextDocumentCompletion, tt.result, nil)

			out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolComplete, map[string]interface{}{"file": "src/lib.rs", "line": 2.0, "column": 7.0})))
			assert.Equal(t, tt.incomplete, out["is_incomplete"])
			items := out["completions"].([]interface{})
			require.Len(t, items, 1)
			assert.Equal(t, map[string]interface{}{"label": "push", "kind": "Method", "detail": "fn(&mut self, T)"}, items[0])
		})
	}
}

func TestSignatureHelp(t *testing.T) {
	d := newTestDispatcher(t)
	d.expectRequest(t, protocol.MethodTextDocumentSignatureHelp, protocol.SignatureHelp{
		Signatures: []protocol.SignatureInformation{{
			Label:         "fn insert(&mut self, k: K, v: V) -> Option<V>",
			Documentation: protocol.MarkupContent{Kind: protocol.Markdown, Value: "Inserts a key-value pair."},
			Parameters:    []protocol.ParameterInformation{{Label: "k: K"}, {Label: "v: V"}},
		}},
		ActiveParameter: 1,
	}, nil)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolSignatureHelp, map[string]interface{}{"file": "src/lib.rs", "line": 2.0, "column": 7.0})))
	assert.Equal(t, 1.0, out["active_parameter"])
	sig := out["signatures"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Inserts a key-value pair.", sig["documentation"])
	assert.Equal(t, []interface{}{"k: K", "v: V"}, sig["parameters"])
}

func TestGetCompletions(t *testing.T) {
	t.Run("queries trailing identifier", func(t *testing.T) {
		d := newTestDispatcher(t)
		var params protocol.WorkspaceSymbolParams
		d.expectRequest(t, protocol.MethodWorkspaceSymbol, []protocol.SymbolInformation{
			{Name: "HashMap", Kind: protocol.SymbolKindStruct, ContainerName: "std::collections"},
		}, &params)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolGetCompletions, map[string]interface{}{"context": "let m = HashM"})))
		assert.Equal(t, "HashM", params.Query)
		assert.Equal(t, "HashM", out["query"])
		assert.Len(t, out["suggestions"], 1)
	})

	t.Run("no identifier", func(t *testing.T) {
		d := newTestDispatcher(t)
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolGetCompletions, map[string]interface{}{"context": "let x = ("}))
		requireKind(t, r, bridgeerrors.KindInvalidParams)
	})
}

func TestTrailingIdentifier(t *testing.T) {
	tests := map[string]string{
		"let v = Vec::":  "Vec",
		"foo.bar":        "bar",
		"self.inner.":    "inner",
		"x_1  ":          "x_1",
		"(":              "",
		"":               "",
		"let m = HashMa": "HashMa",
	}
	for in, want := range tests {
		assert.Equal(t, want, trailingIdentifier(in), in)
	}
}

func TestResolveImport(t *testing.T) {
	d := newTestDispatcher(t)
	inRoot := func(rel string) protocol.Location {
		return protocol.Location{URI: uri.File(filepath.Join(d.root, rel))}
	}
	d.expectRequest(t, protocol.MethodWorkspaceSymbol, []protocol.SymbolInformation{
		{Name: "Config", Kind: protocol.SymbolKindStruct, Location: inRoot("src/config/mod.rs")},
		{Name: "Config", Kind: protocol.SymbolKindStruct, Location: inRoot("src/net/tls.rs")},
		{Name: "Config", Kind: protocol.SymbolKindStruct, Location: inRoot("src/lib.rs")},
		{Name: "Config", Kind: protocol.SymbolKindStruct, ContainerName: "serde_json", Location: protocol.Location{URI: uri.File("/registry/serde_json/src/lib.rs")}},
		{Name: "ConfigBuilder", Kind: protocol.SymbolKindStruct, Location: inRoot("src/lib.rs")},
	}, nil)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolResolveImport, map[string]interface{}{"symbol": "Config"})))
	var statements []string
	for _, imp := range out["imports"].([]interface{}) {
		statements = append(statements, imp.(map[string]interface{})["statement"].(string))
	}
	assert.Equal(t, []string{
		"use crate::config::Config;",
		"use crate::net::tls::Config;",
		"use crate::Config;",
		"use serde_json::Config;",
	}, statements)
}

func TestExpandSnippet(t *testing.T) {
	d := newTestDispatcher(t)
	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolExpandSnippet, map[string]interface{}{"name": "test_fn"})))
	assert.Equal(t, "#[test]\nfn ${1:test_name}() {\n    ${2:// test body}\n}", out["snippet"])

	r := d.Dispatch(context.Background(), entity.NewCommand(ToolExpandSnippet, map[string]interface{}{"name": "while_loop"}))
	requireKind(t, r, bridgeerrors.KindInvalidParams)
	assert.Equal(t, "Unknown snippet: while_loop", r.Err.Message)

	assert.Equal(t, []string{"for_loop", "if_let", "impl_trait", "match_expr", "test_fn"}, snippetNames())
}

func TestRename(t *testing.T) {
	d := newTestDispatcher(t)
	original := "fn parse() {}\n\nfn main() {\n    parse();\n}\n"
	lib := d.writeFile(t, "src/lib.rs", original)
	libURI := uri.File(lib)

	var params protocol.RenameParams
	d.expectRequest(t, protocol.MethodTextDocumentRename, map[string]interface{}{
		"documentChanges": []interface{}{
			protocol.TextDocumentEdit{
				TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: libURI}},
				Edits: []protocol.TextEdit{
					{Range: factory.Range(0, 3, 8), NewText: "decode"},
					{Range: factory.Range(3, 4, 9), NewText: "decode"},
				},
			},
			map[string]interface{}{"kind": "rename", "oldUri": "file:///a.rs", "newUri": "file:///b.rs"},
		},
	}, &params)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolRename, map[string]interface{}{
		"file": "src/lib.rs", "line": 1.0, "column": 4.0, "new_name": "decode",
	})))
	assert.Equal(t, "decode", params.NewName)
	assert.Equal(t, 2.0, out["total_edits"])

	files := out["files"].([]interface{})
	require.Len(t, files, 1)
	diff := files[0].(map[string]interface{})["diff"].(string)
	assert.Contains(t, diff, "-fn parse() {}\n+fn decode() {}\n")
	assert.Contains(t, diff, "-    parse();\n+    decode();\n")

	// The preview never writes.
	content, err := os.ReadFile(lib)
	require.NoError(t, err)
	assert.Equal(t, original, string(content))
}

func TestLineDiffContext(t *testing.T) {
	before := "a\nb\nc\nd\ne\nf\ng\nh\ni\n"
	after := "a\nB\nc\nd\ne\nf\ng\nh\nI\n"
	assert.Equal(t, " a\n-b\n+B\n c\n d\n...\n g\n h\n-i\n+I\n", lineDiff(before, after))
}

func TestCodeActionCommands(t *testing.T) {
	t.Run("extract function", func(t *testing.T) {
		d := newTestDispatcher(t)
		lib := d.writeFile(t, "src/lib.rs", "fn main() {\n    let x = 1 + 2;\n}\n")
		var params protocol.CodeActionParams
		d.expectRequest(t, protocol.MethodTextDocumentCodeAction, []interface{}{
			map[string]interface{}{"title": "Run", "command": "rust-analyzer.run"},
			map[string]interface{}{
				"title": "Extract into function",
				"kind":  "refactor.extract",
				"edit": map[string]interface{}{"changes": map[string]interface{}{
					string(uri.File(lib)): []protocol.TextEdit{{
						Range:   factory.Range(1, 12, 17),
						NewText: "fun_name()",
					}},
				}},
			},
		}, &params)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolExtractFunction, map[string]interface{}{
			"file": "src/lib.rs", "start_line": 2.0, "start_column": 13.0, "end_line": 2.0, "end_column": 18.0,
		})))
		assert.Equal(t, []protocol.CodeActionKind{protocol.RefactorExtract}, params.Context.Only)
		assert.Equal(t, protocol.Position{Line: 1, Character: 12}, params.Range.Start)

		actions := out["actions"].([]interface{})
		require.Len(t, actions, 1)
		action := actions[0].(map[string]interface{})
		assert.Equal(t, "Extract into function", action["title"])
		diff := action["files"].([]interface{})[0].(map[string]interface{})["diff"].(string)
		assert.Contains(t, diff, "+    let x = fun_name();")
	})

	t.Run("inverted range", func(t *testing.T) {
		d := newTestDispatcher(t)
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolExtractFunction, map[string]interface{}{
			"file": "src/lib.rs", "start_line": 3.0, "start_column": 1.0, "end_line": 2.0, "end_column": 1.0,
		}))
		requireKind(t, r, bridgeerrors.KindInvalidParams)
	})

	t.Run("inline", func(t *testing.T) {
		d := newTestDispatcher(t)
		var params protocol.CodeActionParams
		d.expectRequest(t, protocol.MethodTextDocumentCodeAction, []interface{}{}, &params)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolInline, map[string]interface{}{"file": "src/lib.rs", "line": 2.0, "column": 9.0})))
		assert.Equal(t, []protocol.CodeActionKind{protocol.RefactorInline}, params.Context.Only)
		assert.Equal(t, params.Range.Start, params.Range.End)
		assert.Empty(t, out["actions"])
	})

	t.Run("organize imports resolves lazily", func(t *testing.T) {
		d := newTestDispatcher(t)
		lib := d.writeFile(t, "src/lib.rs", "use b::B;\nuse a::A;\n\nfn main() {}\n")
		var params protocol.CodeActionParams
		d.expectRequest(t, protocol.MethodTextDocumentCodeAction, []interface{}{
			map[string]interface{}{"title": "Organize imports", "kind": "source.organizeImports", "data": map[string]interface{}{"id": 1}},
		}, &params)
		var resolveParams map[string]interface{}
		d.expectRequest(t, _methodCodeActionResolve, map[string]interface{}{
			"title": "Organize imports",
			"edit": map[string]interface{}{"changes": map[string]interface{}{
				string(uri.File(lib)): []protocol.TextEdit{{
					Range:   protocol.Range{End: protocol.Position{Line: 2}},
					NewText: "use a::A;\nuse b::B;\n",
				}},
			}},
		}, &resolveParams)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolOrganizeImports, map[string]interface{}{"file": "src/lib.rs"})))
		assert.Equal(t, protocol.Range{End: protocol.Position{Line: 4}}, params.Range)
		assert.Equal(t, map[string]interface{}{"id": 1.0}, resolveParams["data"])

		action := out["actions"].([]interface{})[0].(map[string]interface{})
		diff := action["files"].([]interface{})[0].(map[string]interface{})["diff"].(string)
		assert.Contains(t, diff, "+use b::B;")
	})

	t.Run("organize imports on missing file", func(t *testing.T) {
		d := newTestDispatcher(t)
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolOrganizeImports, map[string]interface{}{"file": "src/nope.rs"}))
		requireKind(t, r, bridgeerrors.KindInvalidParams)
	})
}

func TestProjectStructure(t *testing.T) {
	d := newTestDispatcher(t)
	d.writeFile(t, "Cargo.toml", "[workspace]\nmembers = [\"core\", \"cli\"]\n")
	d.writeFile(t, "src/main.rs", "fn main() {}\n")
	d.writeFile(t, "src/parse/mod.rs", "")
	d.writeFile(t, "src/parse/lexer.rs", "")
	d.writeFile(t, "src/.hidden/x.rs", "")
	d.writeFile(t, "src/README.md", "")

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolProjectStructure, nil)))
	assert.Equal(t, "workspace", out["type"])
	assert.Equal(t, []interface{}{"core", "cli"}, out["members"])

	modules := out["modules"].([]interface{})
	require.Len(t, modules, 2)
	main := modules[0].(map[string]interface{})
	assert.Equal(t, "main.rs", main["name"])
	assert.Equal(t, "module", main["type"])
	parse := modules[1].(map[string]interface{})
	assert.Equal(t, "directory", parse["type"])
	subs := parse["submodules"].([]interface{})
	require.Len(t, subs, 2)
	assert.Equal(t, "file", subs[0].(map[string]interface{})["type"])
	assert.Equal(t, "module", subs[1].(map[string]interface{})["type"])
}

func TestAnalyzeDependencies(t *testing.T) {
	t.Run("manifest", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.writeFile(t, "Cargo.toml", `[package]
name = "demo"

[dependencies]
serde = { version = "1.0", features = ["derive"] }
anyhow = "1"
local = { path = "../local", optional = true }

[dev-dependencies]
tempfile = "3"

[build-dependencies]
cc = { git = "https://github.com/rust-lang/cc-rs" }
`)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeDependencies, nil)))
		assert.Equal(t, true, out["manifest_found"])
		assert.Equal(t, "demo", out["package"])
		assert.Equal(t, map[string]interface{}{
			"serde":  map[string]interface{}{"version": "1.0", "features": []interface{}{"derive"}},
			"anyhow": map[string]interface{}{"version": "1"},
			"local":  map[string]interface{}{"path": "../local", "optional": true},
		}, out["dependencies"])
		assert.Equal(t, map[string]interface{}{"tempfile": map[string]interface{}{"version": "3"}}, out["dev_dependencies"])
		assert.Equal(t, map[string]interface{}{"cc": map[string]interface{}{"git": "https://github.com/rust-lang/cc-rs"}}, out["build_dependencies"])
	})

	t.Run("no manifest", func(t *testing.T) {
		d := newTestDispatcher(t)
		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeDependencies, nil)))
		assert.Equal(t, false, out["manifest_found"])
		assert.Empty(t, out["dependencies"])
	})

	t.Run("malformed manifest", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.writeFile(t, "Cargo.toml", "[dependencies\n")
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolAnalyzeDependencies, nil))
		requireKind(t, r, bridgeerrors.KindInternal)
	})
}

func TestCodeMetrics(t *testing.T) {
	d := newTestDispatcher(t)
	d.writeFile(t, "src/lib.rs", `//! Crate docs
/* block
   comment */

pub struct Parser;
enum Token { A }
pub trait Visit {}

pub fn parse() {}
async fn fetch() {}
`)
	d.writeFile(t, "src/util/mod.rs", "fn helper() {}\n")
	d.writeFile(t, "src/.cache/skip.rs", "fn skipped() {}\n")
	d.writeFile(t, "src/notes.txt", "fn not_rust() {}\n")

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolCodeMetrics, nil)))
	assert.Equal(t, filepath.Join(d.root, "src"), out["path"])
	assert.Equal(t, map[string]interface{}{
		"file_count":      2.0,
		"total_lines":     11.0,
		"code_lines":      6.0,
		"comment_lines":   3.0,
		"blank_lines":     2.0,
		"code_percentage": "54.5%",
		"functions":       3.0,
		"structs":         1.0,
		"enums":           1.0,
		"traits":          1.0,
	}, out["metrics"])

	t.Run("single module", func(t *testing.T) {
		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolCodeMetrics, map[string]interface{}{"module": "src/util"})))
		metrics := out["metrics"].(map[string]interface{})
		assert.Equal(t, 1.0, metrics["functions"])
		assert.Equal(t, "100.0%", metrics["code_percentage"])
	})

	t.Run("outside the project", func(t *testing.T) {
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolCodeMetrics, map[string]interface{}{"module": "../elsewhere"}))
		requireKind(t, r, bridgeerrors.KindInvalidParams)
	})

	t.Run("missing module", func(t *testing.T) {
		r := d.Dispatch(context.Background(), entity.NewCommand(ToolCodeMetrics, map[string]interface{}{"module": "src/absent"}))
		requireKind(t, r, bridgeerrors.KindInvalidParams)
	})
}

func TestFindDeadCode(t *testing.T) {
	d := newTestDispatcher(t)
	d.engine.EXPECT().Diagnostics().Return(testDiagnostics(d.root))

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolFindDeadCode, nil)))
	assert.Equal(t, 2.0, out["total_warnings"])
	warnings := out["dead_code_warnings"].([]interface{})
	assert.Equal(t, "dead_code", warnings[0].(map[string]interface{})["code"])
	assert.Equal(t, "unused_variables", warnings[1].(map[string]interface{})["code"])
}

func TestSuggestImprovements(t *testing.T) {
	t.Run("all files", func(t *testing.T) {
		d := newTestDispatcher(t)
		d.engine.EXPECT().Diagnostics().Return(testDiagnostics(d.root))

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolSuggestImprovements, nil)))
		assert.Equal(t, 6.0, out["total_suggestions"])
		assert.Equal(t, map[string]interface{}{
			"diagnostic":    3.0,
			"formatting":    1.0,
			"documentation": 1.0,
			"testing":       1.0,
		}, out["categories"])
	})

	t.Run("one file with quick fixes", func(t *testing.T) {
		d := newTestDispatcher(t)
		diagnostics := testDiagnostics(d.root)
		d.engine.EXPECT().Diagnostics().Return(diagnostics)
		mainDiags := diagnostics[uri.File(filepath.Join(d.root, "src", "main.rs"))]

		// One code action request per cached diagnostic of the file.
		var first protocol.CodeActionParams
		d.expectRequest(t, protocol.MethodTextDocumentCodeAction, []interface{}{
			map[string]interface{}{"title": "Rename to `_x`", "kind": "quickfix", "data": map[string]interface{}{"id": 7}},
		}, &first)
		d.expectRequest(t, protocol.MethodTextDocumentCodeAction, []interface{}{}, nil)

		out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolSuggestImprovements, map[string]interface{}{"file": "src/main.rs"})))
		assert.Equal(t, []protocol.CodeActionKind{protocol.QuickFix}, first.Context.Only)
		assert.Equal(t, mainDiags[0].Message, first.Context.Diagnostics[0].Message)
		assert.Equal(t, map[string]interface{}{
			"diagnostic":    2.0,
			"quickfix":      1.0,
			"formatting":    1.0,
			"documentation": 1.0,
			"testing":       1.0,
		}, out["categories"])
	})
}

func TestCapabilities(t *testing.T) {
	d := newTestDispatcher(t)
	d.engine.EXPECT().State().Return(entity.SessionReady)

	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolCapabilities, nil)))
	assert.Equal(t, entity.ProductName, out["name"])
	assert.Equal(t, entity.Version, out["version"])
	assert.Equal(t, map[string]interface{}{"enabled": true, "state": "ready"}, out["engine"])

	caps := out["capabilities"].(map[string]interface{})
	assert.Equal(t, []interface{}{"rename", "extract_function", "inline", "organize_imports"}, caps[CategoryRefactoring])
	assert.Len(t, caps, len(_categoryOrder))
}

func TestToolsList(t *testing.T) {
	d := newTestDispatcher(t)
	out := decodeResult(t, d.Dispatch(context.Background(), entity.NewCommand(ToolsList, nil)))
	tools := out["tools"].([]interface{})
	require.Len(t, tools, len(d.catalog.entries))

	hover := tools[2].(map[string]interface{})
	assert.Equal(t, ToolGetHover, hover["name"])
	schema := hover["inputSchema"].(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"file", "line", "column"}, schema["required"])
	line := schema["properties"].(map[string]interface{})["line"].(map[string]interface{})
	assert.Equal(t, 1.0, line["minimum"])
}
