//go:build !windows

package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// shellConfig spawns /bin/sh instead of a Python backend so tests need
// nothing beyond a POSIX shell.
func shellConfig(t *testing.T, script string) Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_backend.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return Config{
		Interpreter: "sh",
		Script:      "fake_backend.sh",
		WorkDir:     dir,
		StopGrace:   2 * time.Second,
	}
}

func waitForExit(t *testing.T, s *Supervisor) ExitInfo {
	t.Helper()
	select {
	case info := <-s.Exits():
		return info
	case <-time.After(10 * time.Second):
		t.Fatal("process never exited")
		return ExitInfo{}
	}
}

func TestStartAndCleanExit(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nexit 0\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	info := waitForExit(t, s)

	assert.Equal(t, 0, info.Code)
	assert.Equal(t, StateExited, s.State())
	assert.Equal(t, 0, s.PID(), "handle must be cleared after exit")
	require.NotNil(t, s.LastExit())
	assert.Equal(t, 0, s.LastExit().Code)
}

func TestCrashRecordsExitCode(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nexit 3\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	info := waitForExit(t, s)

	assert.Equal(t, 3, info.Code)
	assert.Error(t, info.Err)
}

func TestStartWhileRunningIsRejected(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nsleep 30\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, s.State())
}

func TestRestartAfterExit(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nexit 0\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	waitForExit(t, s)

	require.NoError(t, s.Start(), "a new Start must be possible once the handle is cleared")
	waitForExit(t, s)
}

func TestStopTerminatesProcess(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nsleep 30\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	pid := s.PID()
	require.NotZero(t, pid)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StateExited, s.State())
}

func TestStopEscalatesToKill(t *testing.T) {
	// The script ignores SIGTERM, so only the SIGKILL escalation can end it.
	s := New(shellConfig(t, "#!/bin/sh\ntrap '' TERM\nwhile :; do sleep 1; done\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	assert.Equal(t, StateExited, s.State())

	info := s.LastExit()
	require.NotNil(t, info)
	assert.Equal(t, "killed", info.Signal)
}

func TestStopWhenNotRunningIsNoop(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nexit 0\n"), zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Stop())

	require.NoError(t, s.Start())
	waitForExit(t, s)
	require.NoError(t, s.Stop(), "stop after exit is a no-op")
}

func TestStartMissingInterpreter(t *testing.T) {
	cfg := shellConfig(t, "#!/bin/sh\nexit 0\n")
	cfg.Interpreter = "definitely-not-a-real-interpreter"
	s := New(cfg, zaptest.NewLogger(t).Sugar())

	err := s.Start()
	require.Error(t, err)
	assert.Equal(t, StateNotStarted, s.State())
}

func TestReconfigureEnablesLaterStart(t *testing.T) {
	s := New(Config{}, zaptest.NewLogger(t).Sugar())
	require.Error(t, s.Start(), "an unconfigured supervisor must not spawn anything")

	require.NoError(t, s.Reconfigure(shellConfig(t, "#!/bin/sh\nexit 0\n")))
	require.NoError(t, s.Start())
	info := waitForExit(t, s)
	assert.Equal(t, 0, info.Code)
}

func TestReconfigureWhileRunningIsRejected(t *testing.T) {
	s := New(shellConfig(t, "#!/bin/sh\nsleep 60\n"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	err := s.Reconfigure(shellConfig(t, "#!/bin/sh\nexit 0\n"))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestResolveConfigDevLayout(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "backend"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend", "api.py"), []byte("print('ok')\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := ResolveConfig(false)
	require.NoError(t, err)
	assert.Equal(t, "python", cfg.Interpreter)
	assert.Equal(t, filepath.Join("backend", "api.py"), cfg.Script)
}

func TestResolveConfigMissingScript(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = ResolveConfig(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend script not found")
}
