package wrapper

// The wrapper is the process a session actually runs. It owns nothing the
// scheduler needs: if it dies, the job is simply over.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultDeviceEnv is the variable that scopes a child to one GPU
const DefaultDeviceEnv = "CUDA_VISIBLE_DEVICES"

// KillDelay is how long a cancelled child gets between SIGTERM and SIGKILL
var KillDelay = 10 * time.Second

// Spec describes one child launch
type Spec struct {
	Device     int    // resource id exposed to the child
	DeviceEnv  string // variable carrying Device (DefaultDeviceEnv when empty)
	StderrPath string // child's stderr destination; inherited when empty
	Shell      string // interpreter for Command (sh when empty)
	Command    string // the job's command line

	// Linger keeps the wrapper (and so the session) alive at least this
	// long after start, so a poller with a coarser interval still sees the
	// session before it disappears.
	Linger time.Duration
}

// Argv returns the argument list a session should run to launch spec via
// the wrapper binary exe. Each value is its own argument; nothing is
// concatenated into a shell string.
func Argv(exe string, spec Spec) []string {
	argv := []string{exe, "exec", "--device", fmt.Sprint(spec.Device)}
	if spec.DeviceEnv != "" {
		argv = append(argv, "--device-env", spec.DeviceEnv)
	}
	if spec.StderrPath != "" {
		argv = append(argv, "--stderr", spec.StderrPath)
	}
	if spec.Shell != "" {
		argv = append(argv, "--shell", spec.Shell)
	}
	if spec.Linger > 0 {
		argv = append(argv, "--linger", spec.Linger.String())
	}
	return append(argv, "--", spec.Command)
}

// Env returns environ with the device variable set to exactly one value
func Env(environ []string, key string, device int) []string {
	if key == "" {
		key = DefaultDeviceEnv
	}
	prefix := key + "="
	out := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, fmt.Sprintf("%s%d", prefix, device))
}

// Run starts the child described by spec and waits for it. It returns
// the child's exit code; err is set only when the child could not start.
func Run(ctx context.Context, spec Spec) (int, error) {
	shell := spec.Shell
	if shell == "" {
		shell = "sh"
	}
	if strings.TrimSpace(spec.Command) == "" {
		return -1, errors.New("no command specified")
	}

	cmd := exec.CommandContext(ctx, shell, "-c", spec.Command)
	cmd.Env = Env(os.Environ(), spec.DeviceEnv, spec.Device)

	// Own process group; cancelling ctx terminates the whole group so
	// grandchildren of the shell go with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = KillDelay

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if spec.StderrPath != "" {
		f, err := os.OpenFile(spec.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return -1, fmt.Errorf("failed to open stderr file: %w", err)
		}
		defer f.Close()
		cmd.Stderr = f
	}

	started := time.Now()
	defer linger(ctx, started, spec.Linger)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start: %w", err)
	}

	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func linger(ctx context.Context, started time.Time, d time.Duration) {
	remaining := d - time.Since(started)
	if remaining <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(remaining):
	}
}
