package registry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"github.com/uber/lsp-bridge/src/bridge/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const (
	_busyTimeout = 5 * time.Second

	_schema = `CREATE TABLE IF NOT EXISTS daemons (
	project_path TEXT PRIMARY KEY,
	port         INTEGER NOT NULL,
	pid          INTEGER NOT NULL,
	started_at   TEXT NOT NULL,
	last_seen_at TEXT NOT NULL
)`
	_selectDaemons = `SELECT project_path, port, pid, started_at, last_seen_at FROM daemons`
	_insertDaemon  = `INSERT INTO daemons (project_path, port, pid, started_at, last_seen_at) VALUES (?, ?, ?, ?, ?)`
)

type sqliteStore struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	stats  tally.Scope
}

func newSQLiteStore(path string, bridgeFS fs.BridgeFS, logger *zap.SugaredLogger, stats tally.Scope) (*sqliteStore, error) {
	if err := bridgeFS.MkdirAll(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, _busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}
	if _, err := db.Exec(_schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating registry schema: %w", err)
	}
	return &sqliteStore{db: db, logger: logger, stats: stats}, nil
}

func (s *sqliteStore) View(ctx context.Context) (State, error) {
	rows, err := s.db.QueryContext(ctx, _selectDaemons)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return s.scan(rows)
}

// Update runs fn inside a BEGIN IMMEDIATE transaction, which takes the database write lock
// up front so concurrent updaters serialize instead of failing at commit.
func (s *sqliteStore) Update(ctx context.Context, fn func(State) (State, error)) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring registry connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	defer func() {
		if err != nil {
			// The request context may already be done; rollback must still run.
			_, rbErr := conn.ExecContext(context.Background(), "ROLLBACK")
			err = multierr.Append(err, rbErr)
		}
	}()

	rows, err := conn.QueryContext(ctx, _selectDaemons)
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	current, err := s.scan(rows)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM daemons"); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	for root, record := range next {
		m := mapper.DaemonRecordToModel(record)
		if _, err := conn.ExecContext(ctx, _insertDaemon, root, m.Port, m.PID, m.StartedAt, m.LastSeenAt); err != nil {
			return fmt.Errorf("writing registry record %q: %w", root, err)
		}
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("committing registry: %w", err)
	}
	s.stats.Gauge("daemons").Update(float64(len(next)))
	return nil
}

func (s *sqliteStore) scan(rows *sql.Rows) (State, error) {
	defer rows.Close()
	state := make(State)
	for rows.Next() {
		var m model.DaemonRecord
		if err := rows.Scan(&m.ProjectPath, &m.Port, &m.PID, &m.StartedAt, &m.LastSeenAt); err != nil {
			return nil, fmt.Errorf("reading registry record: %w", err)
		}
		record, err := mapper.ModelToDaemonRecord(m)
		if err != nil {
			s.logger.Warnw("dropping unreadable registry record", "root", m.ProjectPath, "error", err)
			continue
		}
		state[m.ProjectPath] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return state, nil
}

func (s *sqliteStore) close() error {
	return s.db.Close()
}
