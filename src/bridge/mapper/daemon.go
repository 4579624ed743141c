package mapper

import (
	"fmt"
	"time"

	"github.com/uber/lsp-bridge/src/bridge/entity"
	"github.com/uber/lsp-bridge/src/bridge/model"
)

// DaemonRecordToModel maps a DaemonRecord entity to its persisted equivalent.
func DaemonRecordToModel(r entity.DaemonRecord) model.DaemonRecord {
	return model.DaemonRecord{
		ProjectPath: r.ProjectRoot,
		Port:        r.Port,
		PID:         r.PID,
		StartedAt:   formatTime(r.StartedAt),
		LastSeenAt:  formatTime(r.LastSeenAt),
	}
}

// ModelToDaemonRecord maps a persisted DaemonRecord to its entity equivalent.
func ModelToDaemonRecord(m model.DaemonRecord) (entity.DaemonRecord, error) {
	startedAt, err := parseTime(m.StartedAt)
	if err != nil {
		return entity.DaemonRecord{}, fmt.Errorf("parsing started_at of %q: %w", m.ProjectPath, err)
	}
	lastSeenAt, err := parseTime(m.LastSeenAt)
	if err != nil {
		return entity.DaemonRecord{}, fmt.Errorf("parsing last_seen_at of %q: %w", m.ProjectPath, err)
	}
	return entity.DaemonRecord{
		ProjectRoot: m.ProjectPath,
		Port:        m.Port,
		PID:         m.PID,
		StartedAt:   startedAt,
		LastSeenAt:  lastSeenAt,
	}, nil
}

// DaemonRecordToStatus annotates a record with liveness.
func DaemonRecordToStatus(r entity.DaemonRecord, alive, healthy bool) entity.DaemonStatus {
	return entity.DaemonStatus{
		ProjectRoot: r.ProjectRoot,
		Port:        r.Port,
		PID:         r.PID,
		Alive:       alive,
		Healthy:     healthy,
		StartedAt:   r.StartedAt,
		LastSeenAt:  r.LastSeenAt,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
