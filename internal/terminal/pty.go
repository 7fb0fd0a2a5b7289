package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Default PTY size until the client sends a resize.
const (
	defaultCols = 80
	defaultRows = 24
)

// Resize dimensions are clamped to this range to defeat allocation DoS
// against the PTY driver.
const (
	minDim = 1
	maxDim = 500
)

// ptySession owns one shell child and its PTY master. The relay goroutines
// share only the reader/writer halves (the same *os.File); the process
// handle is owned by the supervising goroutine that awaits exit.
type ptySession struct {
	cmd    *exec.Cmd
	master *os.File

	closeOnce sync.Once
}

// spawnShell starts shellPath (already resolved by the caller) in dir with
// a sanitized environment and a PTY of the default size.
func spawnShell(shellPath, dir, userID string) (*ptySession, error) {
	cmd := exec.Command(shellPath)
	cmd.Dir = dir
	cmd.Env = shellEnv(shellPath, dir, userID)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: defaultCols,
		Rows: defaultRows,
	})
	if err != nil {
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return &ptySession{cmd: cmd, master: master}, nil
}

// resize applies clamped dimensions. Applied synchronously; I/O is not
// paused.
func (p *ptySession) resize(cols, rows int) error {
	return pty.Setsize(p.master, &pty.Winsize{
		Cols: clampDim(cols),
		Rows: clampDim(rows),
	})
}

// close releases the PTY master. Closing the master hangs up the line,
// delivering SIGHUP to the child's foreground process group. Idempotent.
func (p *ptySession) close() {
	p.closeOnce.Do(func() {
		p.master.Close()
	})
}

func clampDim(d int) uint16 {
	if d < minDim {
		return minDim
	}
	if d > maxDim {
		return maxDim
	}
	return uint16(d)
}

// shellEnv builds a minimal environment for the child: no inherited
// secrets, just what an interactive shell needs.
func shellEnv(shellPath, home, userID string) []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = "/usr/local/bin:/usr/bin:/bin"
	}
	env := []string{
		"TERM=xterm-256color",
		"SHELL=" + shellPath,
		"HOME=" + home,
		"USER=" + userID,
		"LOGNAME=" + userID,
		"PATH=" + path,
	}
	if lang := os.Getenv("LANG"); lang != "" {
		env = append(env, "LANG="+lang)
	}
	return env
}

// resolveShell picks the shell to spawn: the configured path, else $SHELL,
// else /bin/sh.
func resolveShell(configured string) string {
	if configured != "" {
		return configured
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
