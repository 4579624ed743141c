package executor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a module to inject using fx.
var Module = fx.Provide(func(logger *zap.SugaredLogger) Executor {
	return NewExecutor(WithLogger(logger))
})

// Process is a running child with piped standard streams.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Pid() int
	// Wait blocks until the process exits and releases its resources.
	Wait() error
	Kill() error
}

// Executor wraps the starting of "os/exec".Cmd's to allow adding logs to
// each exec and makes it easier to test.
type Executor interface {
	// Start logs and starts cmd with its stdin and stdout connected to pipes.
	Start(cmd *exec.Cmd) (Process, error)
	// StartDetached logs and starts cmd in its own session so that it outlives the caller.
	StartDetached(cmd *exec.Cmd, logPath string) (pid int, err error)
	// ProcessAlive reports whether a process with the given pid exists.
	ProcessAlive(pid int) bool
	// Kill terminates the process with the given pid.
	Kill(pid int) error
}

// executorImp implements Executor
type executorImp struct {
	Logger *zap.SugaredLogger
}

// Option defines options to customize executorImp's behavior
type Option func(*executorImp)

// WithLogger overrides the default noop logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(executor *executorImp) {
		executor.Logger = logger
	}
}

// NewExecutor creates a new executorImp with a noop logger unless one is supplied.
func NewExecutor(opts ...Option) Executor {
	executor := &executorImp{
		Logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Stdout() io.ReadCloser { return p.stdout }
func (p *process) Pid() int              { return p.cmd.Process.Pid }
func (p *process) Wait() error           { return p.cmd.Wait() }

func (p *process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// Start logs the Path/Args and starts the command with piped stdin and stdout.
func (l *executorImp) Start(cmd *exec.Cmd) (Process, error) {
	if err := l.logCommand(cmd); err != nil {
		return nil, err
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	return &process{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// StartDetached logs the Path/Args and starts the command in a new session with output appended to logPath.
func (l *executorImp) StartDetached(cmd *exec.Cmd, logPath string) (int, error) {
	if err := l.logCommand(cmd); err != nil {
		return 0, err
	}

	if logPath == "" {
		logPath = os.DevNull
	}
	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("opening daemon log %q: %w", logPath, err)
	}
	defer out.Close()

	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", cmd.Path, err)
	}

	pid := cmd.Process.Pid
	// Reap the child if it exits while this process is still alive.
	go cmd.Wait()
	return pid, nil
}

// ProcessAlive sends signal 0 to pid.
func (l *executorImp) ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Kill sends SIGKILL to pid.
func (l *executorImp) Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	return nil
}

// Logs the command specified: Path, Dir, Args, Stdin (if available)
func (l *executorImp) logCommand(cmd *exec.Cmd) error {
	args := []string{}
	if len(cmd.Args) > 1 {
		args = cmd.Args[1:] // First arg is always the command itself
	}
	logKeysAndValues := []interface{}{
		"Path", cmd.Path,
		"Dir", cmd.Dir,
		"Args", args,
	}

	if cmd.Stdin != nil {
		stdinBytes, err := io.ReadAll(cmd.Stdin)
		if err != nil {
			return err
		}
		logKeysAndValues = append(logKeysAndValues, "Stdin", string(stdinBytes))
		cmd.Stdin = bytes.NewReader(stdinBytes)
	}

	l.Logger.Infow("Exec", logKeysAndValues...)
	return nil
}
