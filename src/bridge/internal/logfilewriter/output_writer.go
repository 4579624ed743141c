package logfilewriter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/uber/lsp-bridge/src/bridge/internal/fs"
	"github.com/uber/lsp-bridge/src/bridge/internal/serverinfofile"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	_fmtOutputKey = "output:%s"
	_fmtFileName  = "%s-%d.log"
)

// Params define the dependencies for SetupOutputWriter.
type Params struct {
	FS             fs.BridgeFS
	Lifecycle      fx.Lifecycle
	ServerInfoFile serverinfofile.ServerInfoFile
	// Dir is the parent directory of the log file; the system temp directory is used when empty.
	Dir string
}

// OutputWriter is a line-oriented writer backed by a log file.
type OutputWriter interface {
	io.Writer
	// Path returns the file the output is written to.
	Path() string
}

// SetupOutputWriter creates a writer for output that is independent of the bridge's own logs, such as a child process's stderr.
// The file path is stored in the server info file so that it can be tailed.
func SetupOutputWriter(p Params, name string) (OutputWriter, error) {
	dir := p.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	logsDirPath := filepath.Join(dir, name)
	if err := p.FS.MkdirAll(logsDirPath); err != nil {
		return nil, err
	}

	logFile, err := p.FS.Create(filepath.Join(logsDirPath, fmt.Sprintf(_fmtFileName, name, os.Getpid())))
	if err != nil {
		return nil, err
	}

	if err := p.ServerInfoFile.UpdateField(fmt.Sprintf(_fmtOutputKey, name), logFile.Name()); err != nil {
		logFile.Close()
		return nil, err
	}

	// Write via a logger for formatting, timestamp, and performance/buffering.
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(logFile),
		zap.InfoLevel,
	)
	fileLogger := zap.New(core).Sugar()

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			fileLogger.Sync()
			logFile.Close()
			return p.FS.Remove(logFile.Name())
		},
	})

	return &loggerWriter{logger: fileLogger, path: logFile.Name()}, nil
}

type loggerWriter struct {
	logger *zap.SugaredLogger
	path   string
}

// Write implements the io.Writer interface by sending data to the given logger.
func (o *loggerWriter) Write(p []byte) (n int, err error) {
	// Incoming data may contain multiple lines, including blank ones.
	for _, line := range strings.Split(string(p), "\n") {
		if len(strings.TrimSpace(line)) > 0 {
			o.logger.Info(line)
		}
	}

	return len(p), nil
}

func (o *loggerWriter) Path() string {
	return o.path
}
