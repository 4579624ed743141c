package engine

import (
	"sync"

	"go.lsp.dev/protocol"
)

// diagnosticsCache keeps the latest diagnostics published for each document.
// It outlives individual sessions so that results survive an engine restart.
type diagnosticsCache struct {
	mu    sync.RWMutex
	byURI map[protocol.DocumentURI][]protocol.Diagnostic
}

func newDiagnosticsCache() *diagnosticsCache {
	return &diagnosticsCache{byURI: make(map[protocol.DocumentURI][]protocol.Diagnostic)}
}

// set replaces the diagnostics for uri. An empty list clears the entry.
func (d *diagnosticsCache) set(uri protocol.DocumentURI, diagnostics []protocol.Diagnostic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(diagnostics) == 0 {
		delete(d.byURI, uri)
		return
	}
	d.byURI[uri] = diagnostics
}

func (d *diagnosticsCache) all() map[protocol.DocumentURI][]protocol.Diagnostic {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[protocol.DocumentURI][]protocol.Diagnostic, len(d.byURI))
	for uri, diagnostics := range d.byURI {
		out[uri] = append([]protocol.Diagnostic(nil), diagnostics...)
	}
	return out
}
