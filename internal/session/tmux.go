package session

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/psantana5/gpuslot/internal/logging"
)

// Tmux implements Manager on top of the tmux CLI
type Tmux struct {
	binary  string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	log     *logging.Logger
}

// NewTmux creates a tmux-backed session manager
func NewTmux(binary string) *Tmux {
	if binary == "" {
		binary = "tmux"
	}
	return &Tmux{binary: binary, command: exec.CommandContext, log: logging.Discard()}
}

// WithLogger sets where failed listings are reported (at debug level)
func (t *Tmux) WithLogger(l *logging.Logger) *Tmux {
	t.log = l
	return t
}

// List returns live session names. tmux exits non-zero when no server is
// running; that is the same as zero sessions.
func (t *Tmux) List(ctx context.Context) Names {
	out, err := t.command(ctx, t.binary, "list-sessions", "-F", "#{session_name}").Output()
	if err != nil {
		t.log.Debug("tmux list-sessions failed, assuming no sessions", logging.Fields{"error": err.Error()})
		return Names{}
	}
	return parseNames(out)
}

func parseNames(out []byte) Names {
	names := Names{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Tolerate the default "name: 1 windows (created ...)" format
		if i := strings.Index(line, ": "); i > 0 {
			line = line[:i]
		}
		names[line] = struct{}{}
	}
	return names
}

// Spawn creates a detached session running argv. The argv is handed to
// tmux as separate arguments, so tmux executes it without a shell.
func (t *Tmux) Spawn(ctx context.Context, name string, argv []string) *Launch {
	if len(argv) == 0 {
		return Failed(fmt.Errorf("no command for session %s", name))
	}

	args := append([]string{"new-session", "-d", "-s", name, "--"}, argv...)
	cmd := t.command(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Failed(fmt.Errorf("failed to start tmux: %w", err))
	}

	return NewLaunch(func() error {
		if err := cmd.Wait(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("tmux new-session %s: %w: %s", name, err, msg)
			}
			return fmt.Errorf("tmux new-session %s: %w", name, err)
		}
		return nil
	})
}

// Kill terminates a session by exact name
func (t *Tmux) Kill(ctx context.Context, name string) error {
	out, err := t.command(ctx, t.binary, "kill-session", "-t", "="+name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to kill session %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// PanePID returns the PID of the process running in the session's pane
func (t *Tmux) PanePID(ctx context.Context, name string) (int, error) {
	out, err := t.command(ctx, t.binary, "list-panes", "-s", "-t", "="+name, "-F", "#{pane_pid}").Output()
	if err != nil {
		return 0, fmt.Errorf("failed to list panes of %s: %w", name, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("session %s has no panes", name)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("invalid pane pid %q: %w", fields[0], err)
	}
	return pid, nil
}
