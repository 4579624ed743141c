package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	tally "github.com/uber-go/tally/v4"
	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/mapper"
	"github.com/uber/lsp-bridge/src/bridge/model"
	"go.uber.org/zap"
)

const _lockRetryDelay = 10 * time.Millisecond

type fileStore struct {
	path     string
	lockPath string
	fs       fs.BridgeFS
	logger   *zap.SugaredLogger
	stats    tally.Scope
}

func newFileStore(path string, bridgeFS fs.BridgeFS, logger *zap.SugaredLogger, stats tally.Scope) *fileStore {
	return &fileStore{
		path:     path,
		lockPath: path + ".lock",
		fs:       bridgeFS,
		logger:   logger,
		stats:    stats,
	}
}

func (s *fileStore) View(ctx context.Context) (State, error) {
	// Each call opens its own lock file descriptor, so goroutines of one process exclude each
	// other the same way separate processes do.
	lock, err := s.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()
	return s.read(), nil
}

func (s *fileStore) Update(ctx context.Context, fn func(State) (State, error)) error {
	lock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	next, err := fn(s.read())
	if err != nil {
		return err
	}
	return s.write(next)
}

func (s *fileStore) acquire(ctx context.Context, exclusive bool) (*flock.Flock, error) {
	if err := s.fs.MkdirAll(filepath.Dir(s.lockPath)); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	lock := flock.New(s.lockPath)
	var locked bool
	var err error
	if exclusive {
		locked, err = lock.TryLockContext(ctx, _lockRetryDelay)
	} else {
		locked, err = lock.TryRLockContext(ctx, _lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("locking registry: %w", ctx.Err())
	}
	return lock, nil
}

// read loads the registry. Unreadable content is treated as an empty registry.
func (s *fileStore) read() State {
	state := make(State)
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warnw("failed to read registry, treating as empty", "error", err)
			s.stats.Counter("read_errors").Inc(1)
		}
		return state
	}
	if len(data) == 0 {
		return state
	}

	var file model.RegistryFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Warnw("corrupt registry, treating as empty", "error", err)
		s.stats.Counter("read_errors").Inc(1)
		return state
	}
	for root, m := range file.Daemons {
		record, err := mapper.ModelToDaemonRecord(m)
		if err != nil {
			s.logger.Warnw("dropping unreadable registry record", "root", root, "error", err)
			continue
		}
		record.ProjectRoot = root
		state[root] = record
	}
	return state
}

func (s *fileStore) write(state State) error {
	file := model.RegistryFile{Daemons: make(map[string]model.DaemonRecord, len(state))}
	for root, record := range state {
		file.Daemons[root] = mapper.DaemonRecordToModel(record)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	if err := s.fs.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	s.stats.Gauge("daemons").Update(float64(len(state)))
	return nil
}
