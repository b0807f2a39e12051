package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys, shared by flags, environment (GPUSLOT_<KEY>), the optional
// settings file and the job file.
const (
	KeyNumGPUs       = "num_gpus"
	KeyInterval      = "interval"
	KeyOrder         = "order"
	KeyDevicePolicy  = "device_policy"
	KeySessionPrefix = "session_prefix"
	KeyLogPath       = "log_path"
	KeyLogLevel      = "log_level"
	KeyLogJSON       = "log_json"
	KeyErrDir        = "err_dir"
	KeyWatchStderr   = "watch_stderr"
	KeyEnvVar        = "env_var"
	KeyShell         = "shell"
	KeyLinger        = "linger"
)

// EnvPrefix is the environment prefix viper binds
const EnvPrefix = "GPUSLOT"

// Settings is the effective configuration of one run
type Settings struct {
	NumGPUs       int
	Interval      time.Duration
	Order         string
	DevicePolicy  string
	SessionPrefix string
	LogPath       string
	LogLevel      string
	LogJSON       bool
	ErrDir        string // empty: a per-run directory under the temp dir
	WatchStderr   bool
	EnvVar        string
	Shell         string
	Linger        time.Duration
}

// SetDefaults registers built-in defaults and environment binding on v
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyNumGPUs, 1)
	v.SetDefault(KeyInterval, "500ms")
	v.SetDefault(KeyOrder, "lifo")
	v.SetDefault(KeyDevicePolicy, "any")
	v.SetDefault(KeySessionPrefix, "gpuslot")
	v.SetDefault(KeyLogPath, "gpuslot.log")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyErrDir, "")
	v.SetDefault(KeyWatchStderr, true)
	v.SetDefault(KeyEnvVar, "CUDA_VISIBLE_DEVICES")
	v.SetDefault(KeyShell, "/bin/sh")
	v.SetDefault(KeyLinger, "")
}

// values returns the keys the job file sets explicitly
func (f *File) values() map[string]interface{} {
	m := make(map[string]interface{})
	if f.NumGPUs != 0 {
		m[KeyNumGPUs] = f.NumGPUs
	}
	if f.Interval != 0 {
		m[KeyInterval] = time.Duration(f.Interval).String()
	}
	if f.Linger != 0 {
		m[KeyLinger] = time.Duration(f.Linger).String()
	}
	strs := map[string]string{
		KeyOrder:         f.Order,
		KeyDevicePolicy:  f.DevicePolicy,
		KeySessionPrefix: f.SessionPrefix,
		KeyLogPath:       f.LogPath,
		KeyErrDir:        f.ErrDir,
		KeyEnvVar:        f.EnvVar,
		KeyShell:         f.Shell,
	}
	for k, s := range strs {
		if s != "" {
			m[k] = s
		}
	}
	if f.WatchStderr != nil {
		m[KeyWatchStderr] = *f.WatchStderr
	}
	return m
}

// Merge layers the job file under flags and environment and returns the
// effective settings. Precedence: flag, env, job file, settings file,
// default. f may be nil.
func Merge(v *viper.Viper, f *File) (*Settings, error) {
	if f != nil {
		if err := v.MergeConfigMap(f.values()); err != nil {
			return nil, fmt.Errorf("failed to merge job file settings: %w", err)
		}
	}

	interval, err := ParseDuration(v.GetString(KeyInterval))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyInterval, err)
	}
	linger := interval
	if raw := v.GetString(KeyLinger); raw != "" {
		if linger, err = ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", KeyLinger, err)
		}
	}

	s := &Settings{
		NumGPUs:       v.GetInt(KeyNumGPUs),
		Interval:      interval,
		Order:         v.GetString(KeyOrder),
		DevicePolicy:  v.GetString(KeyDevicePolicy),
		SessionPrefix: v.GetString(KeySessionPrefix),
		LogPath:       v.GetString(KeyLogPath),
		LogLevel:      v.GetString(KeyLogLevel),
		LogJSON:       v.GetBool(KeyLogJSON),
		ErrDir:        v.GetString(KeyErrDir),
		WatchStderr:   v.GetBool(KeyWatchStderr),
		EnvVar:        v.GetString(KeyEnvVar),
		Shell:         v.GetString(KeyShell),
		Linger:        linger,
	}
	return s, s.Validate()
}

// Validate checks the settings a run cannot start without
func (s *Settings) Validate() error {
	if s.NumGPUs < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyNumGPUs, s.NumGPUs)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%s must be positive", KeyInterval)
	}
	if s.SessionPrefix == "" {
		return fmt.Errorf("%s must not be empty", KeySessionPrefix)
	}
	if strings.ContainsAny(s.SessionPrefix, ".: ") {
		return fmt.Errorf("%s %q must not contain '.', ':' or spaces", KeySessionPrefix, s.SessionPrefix)
	}
	if s.EnvVar == "" {
		return fmt.Errorf("%s must not be empty", KeyEnvVar)
	}
	return nil
}
