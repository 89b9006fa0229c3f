// Package supervisor owns the detection service's process lifecycle. The
// shell spawns the backend once at startup, watches it until it exits, and
// tears it down on shutdown. There is no auto-restart: restart policy belongs
// to the operator, the supervisor only guarantees a clean handle afterwards.
package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of the supervised process handle.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateExited     State = "exited"
)

// ErrAlreadyRunning is returned by Start while a handle is live. A second
// Start must never silently double-spawn.
var ErrAlreadyRunning = errors.New("backend process already running")

// ExitInfo describes how the supervised process ended.
type ExitInfo struct {
	Code      int
	Signal    string
	Timestamp time.Time
	Err       error
}

// Config describes what to spawn and where.
type Config struct {
	// Interpreter runs the backend script, typically "python" or "python3".
	Interpreter string
	// Script is the backend entry point relative to WorkDir.
	Script string
	// WorkDir is the directory the backend runs from.
	WorkDir string
	// Env entries appended to the inherited environment.
	Env []string
	// StopGrace is how long to wait for SIGTERM before escalating.
	StopGrace time.Duration
}

// ResolveConfig builds a spawn configuration for the current installation
// layout. A packaged build ships the backend under resources/ next to the
// shell executable; a development checkout runs it from the repository root.
func ResolveConfig(packaged bool) (Config, error) {
	cfg := Config{
		Interpreter: "python",
		Script:      filepath.Join("backend", "api.py"),
		StopGrace:   10 * time.Second,
	}

	if packaged {
		execPath, err := os.Executable()
		if err != nil {
			return Config{}, fmt.Errorf("failed to locate shell executable: %w", err)
		}
		execPath, err = filepath.EvalSymlinks(execPath)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve shell executable path: %w", err)
		}
		cfg.WorkDir = filepath.Join(filepath.Dir(execPath), "resources")
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.WorkDir = wd
	}

	if _, err := os.Stat(filepath.Join(cfg.WorkDir, cfg.Script)); err != nil {
		return cfg, fmt.Errorf("backend script not found under %s: %w", cfg.WorkDir, err)
	}
	return cfg, nil
}

// Supervisor holds at most one live process handle at a time. Only the
// supervisor mutates the handle: Start sets it, the exit watcher clears it.
type Supervisor struct {
	config Config
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	state     State
	pid       int
	lastExit  *ExitInfo
	startTime time.Time
	waitDone  chan struct{}

	exitCh chan ExitInfo
}

// New creates a supervisor for the given spawn configuration.
func New(config Config, logger *zap.SugaredLogger) *Supervisor {
	if config.StopGrace == 0 {
		config.StopGrace = 10 * time.Second
	}
	return &Supervisor{
		config: config,
		logger: logger,
		state:  StateNotStarted,
		exitCh: make(chan ExitInfo, 4),
	}
}

// Reconfigure replaces the spawn configuration for the next Start. Rejected
// while a process handle is live.
func (s *Supervisor) Reconfigure(config Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarting || s.state == StateRunning {
		return ErrAlreadyRunning
	}
	if config.StopGrace == 0 {
		config.StopGrace = 10 * time.Second
	}
	s.config = config
	return nil
}

// Start spawns the backend process. Standard streams are inherited so
// backend diagnostics land in the shell's console. A spawn failure is logged
// and recorded but never fatal to the shell.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarting || s.state == StateRunning {
		return ErrAlreadyRunning
	}

	s.logger.Infow("Starting backend service",
		"interpreter", s.config.Interpreter,
		"script", s.config.Script,
		"work_dir", s.config.WorkDir)

	interpreter, err := exec.LookPath(s.config.Interpreter)
	if err != nil {
		s.state = StateNotStarted
		s.logger.Errorw("Backend interpreter not found", "interpreter", s.config.Interpreter, "error", err)
		return fmt.Errorf("interpreter %q not found: %w", s.config.Interpreter, err)
	}

	cmd := exec.Command(interpreter, s.config.Script)
	cmd.Dir = s.config.WorkDir
	if len(s.config.Env) > 0 {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	s.state = StateStarting
	s.startTime = time.Now()

	if err := cmd.Start(); err != nil {
		s.state = StateNotStarted
		s.logger.Errorw("Failed to start backend service", "error", err)
		return fmt.Errorf("failed to start backend service: %w", err)
	}

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.state = StateRunning
	s.waitDone = make(chan struct{})

	s.logger.Infow("Backend service started", "pid", s.pid)

	go s.watch(cmd, s.waitDone)
	return nil
}

// watch waits for the process to exit, records how, and clears the handle so
// a later Start is possible.
func (s *Supervisor) watch(cmd *exec.Cmd, done chan struct{}) {
	defer close(done)
	err := cmd.Wait()

	info := ExitInfo{Timestamp: time.Now(), Err: err}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			info.Code = exitErr.ExitCode()
			info.Signal = exitSignal(exitErr)
		} else {
			info.Code = -1
		}
	}

	s.mu.Lock()
	runtime := time.Since(s.startTime)
	s.lastExit = &info
	s.state = StateExited
	s.cmd = nil
	s.pid = 0
	s.mu.Unlock()

	if err != nil {
		s.logger.Errorw("Backend service exited",
			"code", info.Code,
			"signal", info.Signal,
			"runtime", runtime,
			"error", err)
	} else {
		s.logger.Infow("Backend service exited normally", "runtime", runtime)
	}

	select {
	case s.exitCh <- info:
	default:
	}
}

// Stop terminates the backend if it is running. Idempotent: stopping an
// already-stopped supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	pid := s.pid
	done := s.waitDone
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	s.logger.Infow("Stopping backend service", "pid", pid)
	terminate(pid)

	select {
	case <-done:
		return nil
	case <-time.After(s.config.StopGrace):
		s.logger.Warnw("Backend did not stop in time, killing", "pid", pid)
		kill(pid)
		<-done
		return nil
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PID returns the backend's process id, or zero when not running.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

// LastExit returns how the most recent process ended, or nil before any exit.
func (s *Supervisor) LastExit() *ExitInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastExit
}

// Exits delivers one ExitInfo per process death, for the lifecycle machine.
func (s *Supervisor) Exits() <-chan ExitInfo { return s.exitCh }
