package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/gpuslot/internal/config"
	"github.com/psantana5/gpuslot/internal/device"
	"github.com/psantana5/gpuslot/internal/job"
	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/metrics"
	"github.com/psantana5/gpuslot/internal/report"
	"github.com/psantana5/gpuslot/internal/scheduler"
	"github.com/psantana5/gpuslot/internal/server"
	"github.com/psantana5/gpuslot/internal/shutdown"
	"github.com/psantana5/gpuslot/internal/wrapper"
)

var (
	jobFile         string
	listenAddr      string
	metricsTextfile string
	killOnInterrupt bool
	noColor         bool
)

var runCmd = &cobra.Command{
	Use:   "run --cfg <jobs.yaml>",
	Short: "Schedule the jobs of a job file onto free GPUs",
	Long: `Run polls the GPUs every interval and submits one pending job per
iteration to a device that has no compute processes and is not already held
by this run. The run ends when every job's session has come and gone.

Sessions are left running if gpuslot is interrupted; use kill-all to stop
them, or pass --kill-on-interrupt.

Example:
  gpuslot run --cfg sweep.yaml -n 2
  gpuslot run --cfg sweep.yaml --order fifo --listen :9400
  GPUSLOT_INTERVAL=5 gpuslot run --cfg sweep.yaml --metrics-textfile /var/lib/node_exporter/gpuslot.prom`,
	RunE: runJobs,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&jobFile, "cfg", "", "job file (YAML)")
	runCmd.MarkFlagRequired("cfg")

	runCmd.Flags().IntP("num-gpus", "n", 1, "maximum devices held at once")
	runCmd.Flags().String("interval", "500ms", "time between iterations (seconds or duration)")
	runCmd.Flags().String("order", "lifo", "submission order: lifo or fifo")
	runCmd.Flags().String("device-policy", "any", "device choice: any or lowest")
	runCmd.Flags().String("err-dir", "", "directory for per-job stderr files (default: per-run temp dir)")
	runCmd.Flags().Bool("watch-stderr", true, "warn when a job writes to stderr")
	runCmd.Flags().String("env-var", wrapper.DefaultDeviceEnv, "variable exposing the device to a job")
	runCmd.Flags().String("shell", "/bin/sh", "shell that runs each command")
	runCmd.Flags().String("linger", "", "minimum session lifetime (default: one interval)")

	for key, flag := range map[string]string{
		config.KeyNumGPUs:      "num-gpus",
		config.KeyInterval:     "interval",
		config.KeyOrder:        "order",
		config.KeyDevicePolicy: "device-policy",
		config.KeyErrDir:       "err-dir",
		config.KeyWatchStderr:  "watch-stderr",
		config.KeyEnvVar:       "env-var",
		config.KeyShell:        "shell",
		config.KeyLinger:       "linger",
	} {
		viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}

	runCmd.Flags().StringVar(&listenAddr, "listen", "", "serve status and metrics over HTTP on this address")
	runCmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "rewrite prometheus metrics to this file every iteration")
	runCmd.Flags().BoolVar(&killOnInterrupt, "kill-on-interrupt", false, "kill this run's sessions on Ctrl-C")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colours in the status table")
}

func runJobs(cmd *cobra.Command, args []string) error {
	start := time.Now()
	runID := uuid.New().String()

	file, err := config.LoadFile(jobFile, config.NewResolver(start))
	if err != nil {
		return err
	}
	settings, err := config.Merge(viper.GetViper(), file)
	if err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	order, err := scheduler.ParseOrder(settings.Order)
	if err != nil {
		return err
	}
	pick, err := scheduler.ParsePicker(settings.DevicePolicy)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate gpuslot binary: %w", err)
	}
	errDir := settings.ErrDir
	if errDir == "" {
		errDir = filepath.Join(os.TempDir(), "gpuslot-"+runID[:8])
	}

	baseLog, err := newLogger(false)
	if err != nil {
		return err
	}
	log := baseLog.WithField("run_id", runID)

	mgr := shutdown.New(5*time.Second, log)
	defer mgr.Shutdown()
	mgr.Register("logger", shutdown.CloseResource(baseLog))

	ctx, cancel := mgr.SignalContext(context.Background())
	defer cancel()

	devices, err := newDevices(ctx)
	if err != nil {
		log.Error("device manager unavailable", logging.Fields{"error": err.Error()})
		return err
	}
	sessions := newSessions().WithLogger(log)

	m := metrics.New(runID)
	rt := &job.Runtime{
		Sessions:      sessions,
		SessionPrefix: settings.SessionPrefix,
		Executable:    exe,
		DeviceEnv:     settings.EnvVar,
		Shell:         settings.Shell,
		Linger:        settings.Linger,
		ErrDir:        errDir,
		WatchStderr:   settings.WatchStderr,
		Logger:        log,
	}
	m.Hooks(rt)

	queue := make([]*job.Job, 0, len(file.Jobs))
	for _, spec := range file.Jobs {
		queue = append(queue, job.New(spec.ID, spec.Command, rt))
	}

	latest := &report.Latest{}
	reporters := report.Multi{latest, statusReporter(cmd.OutOrStdout())}
	if metricsTextfile != "" {
		reporters = append(reporters, metrics.NewTextfile(m, metricsTextfile, log))
	} else {
		reporters = append(reporters, m)
	}

	if listenAddr != "" {
		h := server.NewHandler(latest, m.Handler(), runID)
		srv, err := server.Listen(listenAddr, server.NewRouter(h, server.NewRequestMetrics(m.Registry()), log), log)
		if err != nil {
			return err
		}
		srv.Serve()
		mgr.Register("status server", shutdown.StopHTTPServer(srv))
	}

	sched, err := scheduler.New(scheduler.Config{
		Cap:      settings.NumGPUs,
		Interval: settings.Interval,
		Order:    order,
		Pick:     pick,
	}, queue, device.NewProbe(devices), sessions,
		scheduler.WithReporter(reporters),
		scheduler.WithLogger(log),
	)
	if err != nil {
		return err
	}

	log.Info("run started", logging.Fields{
		"jobs":     len(queue),
		"cap":      settings.NumGPUs,
		"interval": settings.Interval.String(),
		"order":    order.String(),
		"err_dir":  errDir,
	})

	err = sched.Run(ctx)
	summary := report.Summarize(sched.Snapshot(), time.Since(start))

	if errors.Is(err, context.Canceled) {
		log.Warn("run interrupted", logging.Fields{"summary": summary.String()})
		if killOnInterrupt {
			killCtx, killCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer killCancel()
			if err := sched.KillAll(killCtx); err != nil {
				log.Error("failed to kill sessions", logging.Fields{"error": err.Error()})
			}
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted; sessions keep running. Stop them with: gpuslot kill-all --session-prefix %s\n", settings.SessionPrefix)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary.String())
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("run finished", logging.Fields{"summary": summary.String()})
	fmt.Fprintln(cmd.OutOrStdout(), summary.String())
	return nil
}

// statusReporter draws a live table on a terminal, a plain table when
// piped, and JSON lines with --output json
func statusReporter(out io.Writer) report.Reporter {
	if IsJSONOutput() {
		return report.NewJSONLines(out)
	}
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd())
	}
	return report.NewTable(out, tty, tty && !noColor)
}
