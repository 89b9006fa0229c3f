//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

func terminate(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}

func kill(pid int) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}

func exitSignal(_ *exec.ExitError) string { return "" }
