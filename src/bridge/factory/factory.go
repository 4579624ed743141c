// Package factory builds identifiers and sample values shared by the bridge and its tests.
package factory

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/uber/lsp-bridge/src/bridge/entity"
	"go.lsp.dev/protocol"
)

// SampleStart is the start time given to sample daemon records.
var SampleStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// RequestID returns a new id for an HTTP request.
func RequestID() string {
	return UUID().String()
}

// DaemonRecord is a factory for a record of a daemon serving root on port.
func DaemonRecord(root string, port int) entity.DaemonRecord {
	return entity.DaemonRecord{ProjectRoot: root, Port: port, PID: 100 + port, StartedAt: SampleStart, LastSeenAt: SampleStart}
}

// Range returns the range covering line, from character start to end, all 0-based.
func Range(line, start, end uint32) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: start},
		End:   protocol.Position{Line: line, Character: end},
	}
}
