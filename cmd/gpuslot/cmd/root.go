package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/gpuslot/internal/config"
	"github.com/psantana5/gpuslot/internal/device"
	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/session"
)

var (
	cfgFile      string
	outputFormat string
	tmuxBinary   string
	smiBinary    string
	staticGPUs   int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gpuslot",
	Short: "Run a queue of GPU jobs, one free device each",
	Long: `gpuslot runs a list of shell commands on the GPUs of one host.

Each job gets a device with no compute processes on it, runs in its own
detached tmux session, and sees only that device through
CUDA_VISIBLE_DEVICES. At most --num-gpus devices are held at once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.gpuslot/config.yaml)")
	flags.StringVar(&outputFormat, "output", "table", "output format: table or json")
	flags.StringVar(&tmuxBinary, "tmux", "tmux", "tmux binary")
	flags.StringVar(&smiBinary, "nvidia-smi", "nvidia-smi", "nvidia-smi binary")
	flags.IntVar(&staticGPUs, "devices", 0, "pretend the host has N always-free devices instead of querying nvidia-smi")

	flags.String("session-prefix", "gpuslot", "session name prefix")
	flags.String("log-path", "gpuslot.log", "log file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "write log entries as JSON")

	viper.BindPFlag(config.KeySessionPrefix, flags.Lookup("session-prefix"))
	viper.BindPFlag(config.KeyLogPath, flags.Lookup("log-path"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogJSON, flags.Lookup("log-json"))
}

// initConfig reads in the settings file and ENV variables if set
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".gpuslot"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Warning: failed to read settings file %s: %v\n", cfgFile, err)
	}
}

// IsJSONOutput returns true if output format is JSON
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newLogger opens the configured log file. echo also writes to stderr.
func newLogger(echo bool) (*logging.Logger, error) {
	level := logging.ParseLevel(viper.GetString(config.KeyLogLevel))
	return logging.NewFileLogger(viper.GetString(config.KeyLogPath), level, viper.GetBool(config.KeyLogJSON), echo)
}

func newSessions() *session.Tmux {
	return session.NewTmux(tmuxBinary)
}

// newDevices returns the device manager. A missing or failing nvidia-smi is
// an error wrapping device.ErrUnavailable.
func newDevices(ctx context.Context) (device.Manager, error) {
	if staticGPUs > 0 {
		return device.NewStatic(staticGPUs), nil
	}
	return device.NewNvidiaSMI(ctx, smiBinary)
}

func sessionPrefix() string {
	return viper.GetString(config.KeySessionPrefix)
}
