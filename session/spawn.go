package session

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/creack/pty"
)

// ptyColumns and ptyRows are the fixed PTY dimensions the Agent spawns
// every shell with, per the session lifecycle contract.
const (
	ptyColumns = 120
	ptyRows    = 30
)

// shellCommand returns the platform shell the Agent spawns PTYs with:
// cmd.exe on Windows, bash elsewhere.
func shellCommand() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	return "bash"
}

// spawnPTY starts the platform shell inside a new PTY sized 120x30,
// rooted at workingDir, with TERM=xterm-256color and the process
// environment inherited.
func spawnPTY(workingDir string) (*os.File, *exec.Cmd, error) {
	cmd := exec.Command(shellCommand())
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: ptyRows, Cols: ptyColumns})
	if err != nil {
		return nil, nil, fmt.Errorf("spawn PTY: %w", err)
	}
	return ptmx, cmd, nil
}

// gracefulTerminate asks the shell's process to exit (os.Interrupt),
// gives it timeout to do so, then force-kills it. Best-effort — the
// PTY side is also closed by the caller regardless of outcome.
func gracefulTerminate(cmd *exec.Cmd, timeout time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
		return
	}

	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cmd.Process.Kill()
	}
}
