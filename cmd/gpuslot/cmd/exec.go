package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/gpuslot/internal/config"
	"github.com/psantana5/gpuslot/internal/wrapper"
)

var (
	execDevice    int
	execDeviceEnv string
	execStderr    string
	execShell     string
	execLinger    string
)

// ExitError carries a child's exit code out of Execute
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

var execCmd = &cobra.Command{
	Use:   "exec --device N [flags] -- <command>",
	Short: "Run one job command scoped to a device (used inside sessions)",
	Long: `Exec is what each scheduler session runs. It starts the command with
the given shell in its own process group, exposes exactly one device through
the device variable, and redirects the command's stderr to a file.

The session ends when exec returns. With --linger, exec stays at least that
long so a short command's session is still visible to the scheduler.

Example:
  gpuslot exec --device 1 --stderr /tmp/gpuslot/train.err -- python train.py --lr 0.1`,
	Args:   cobra.MinimumNArgs(1),
	Hidden: true,
	RunE:   runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().IntVar(&execDevice, "device", -1, "device index exposed to the command")
	execCmd.Flags().StringVar(&execDeviceEnv, "device-env", wrapper.DefaultDeviceEnv, "variable carrying the device index")
	execCmd.Flags().StringVar(&execStderr, "stderr", "", "file receiving the command's stderr")
	execCmd.Flags().StringVar(&execShell, "shell", "/bin/sh", "shell that runs the command")
	execCmd.Flags().StringVar(&execLinger, "linger", "", "minimum lifetime of this process")
	execCmd.MarkFlagRequired("device")
}

func runExec(cmd *cobra.Command, args []string) error {
	if execDevice < 0 {
		return fmt.Errorf("invalid device index: %d", execDevice)
	}
	linger, err := config.ParseDuration(execLinger)
	if err != nil {
		return fmt.Errorf("invalid --linger: %w", err)
	}

	spec := wrapper.Spec{
		Device:     execDevice,
		DeviceEnv:  execDeviceEnv,
		StderrPath: execStderr,
		Shell:      execShell,
		Command:    strings.Join(args, " "),
		Linger:     linger,
	}

	// tmux kill-session sends SIGHUP; pass it on to the job's group
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			fmt.Fprintf(os.Stderr, "[gpuslot] received %s, stopping job\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	started := time.Now()
	code, err := wrapper.Run(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[gpuslot] job exited with code %d after %s\n", code, time.Since(started).Round(time.Second))
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
