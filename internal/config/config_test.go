package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

func noEnv(string) (string, bool) { return "", false }

func TestResolve(t *testing.T) {
	r := NewResolver(start).WithEnv(func(k string) (string, bool) {
		if k == "DATA" {
			return "/data", true
		}
		return "", false
	})
	r.Define("lr", "0.01")
	r.Define("out", "${join:runs,${datetime}}")
	r.Define("loop", "${loop}")

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "plain text", want: "plain text"},
		{in: "${datetime}", want: "2024_0309_1405"},
		{in: "${datetime:2006-01-02}", want: "2024-03-09"},
		{in: "${join:a,b,c}", want: "a/b/c"},
		{in: "--out ${join:runs,${datetime}}", want: "--out runs/2024_0309_1405"},
		{in: "--lr ${lr} --out ${out}", want: "--lr 0.01 --out runs/2024_0309_1405"},
		{in: "${env:DATA}/x", want: "/data/x"},
		{in: `echo \${HOME}`, want: "echo ${HOME}"},
		{in: "$HOME stays", want: "$HOME stays"},
		{in: "${env:MISSING}", wantErr: true},
		{in: "${nope}", wantErr: true},
		{in: "${open:x.yaml}", wantErr: true},
		{in: "${unterminated", wantErr: true},
		{in: "${loop}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := r.Resolve(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatetimeIsStableAcrossValues(t *testing.T) {
	r := NewResolver(start)
	a, err := r.Resolve("${datetime}")
	require.NoError(t, err)
	b, err := r.Resolve("${datetime}")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseKeepsJobOrder(t *testing.T) {
	data := []byte(`
num_gpus: 2
interval: 1.5
order: fifo
lr: 0.1
jobs:
  zeta: python train.py --lr ${lr}
  alpha: python train.py --out ${join:out,${datetime}}
  mid: echo mid
`)
	f, err := Parse(data, ".", NewResolver(start).WithEnv(noEnv))
	require.NoError(t, err)

	assert.Equal(t, 2, f.NumGPUs)
	assert.Equal(t, 1500*time.Millisecond, time.Duration(f.Interval))
	assert.Equal(t, "fifo", f.Order)
	assert.Equal(t, []JobSpec{
		{ID: "zeta", Command: "python train.py --lr 0.1"},
		{ID: "alpha", Command: "python train.py --out out/2024_0309_1405"},
		{ID: "mid", Command: "echo mid"},
	}, f.Jobs)
}

func TestParseInterpolatedScalarsKeepTypes(t *testing.T) {
	data := []byte(`
n: 3
num_gpus: ${n}
watch_stderr: ${flag}
flag: false
interval: 250ms
jobs:
  a: echo a
`)
	f, err := Parse(data, ".", NewResolver(start))
	require.NoError(t, err)
	assert.Equal(t, 3, f.NumGPUs)
	require.NotNil(t, f.WatchStderr)
	assert.False(t, *f.WatchStderr)
	assert.Equal(t, 250*time.Millisecond, time.Duration(f.Interval))
}

func TestParseLegacyKeys(t *testing.T) {
	f, err := Parse([]byte("num_alloc_gpus: 4\njobs:\n  a: echo a\n"), ".", NewResolver(start))
	require.NoError(t, err)
	assert.Equal(t, 4, f.NumGPUs)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		noJobs  bool
		message string
	}{
		{name: "empty", data: "", noJobs: true},
		{name: "no jobs key", data: "num_gpus: 1\n", noJobs: true},
		{name: "null jobs", data: "jobs:\n", noJobs: true},
		{name: "empty mapping", data: "jobs: {}\n", noJobs: true},
		{name: "list", data: "- a\n", message: "must be a mapping"},
		{name: "jobs list", data: "jobs:\n  - echo a\n", message: "mapping of job id"},
		{name: "duplicate", data: "jobs:\n  a: echo 1\n  a: echo 2\n", message: "duplicate job id"},
		{name: "nested command", data: "jobs:\n  a:\n    cmd: x\n", message: "must be a string"},
		{name: "empty command", data: "jobs:\n  a: ''\n", message: "empty command"},
		{name: "bad interval", data: "interval: soon\njobs:\n  a: echo\n", message: "invalid duration"},
		{name: "bad reference", data: "jobs:\n  a: echo ${missing}\n", message: "unresolved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), ".", NewResolver(start))
			require.Error(t, err)
			if tt.noJobs {
				assert.ErrorIs(t, err, ErrNoJobs)
				return
			}
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestLoadFileOpensJobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sweep.yaml"), []byte("b: echo ${tag}\na: echo a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.yaml"), []byte("tag: v1\njobs: ${open:sweep.yaml}\n"), 0644))

	f, err := LoadFile(filepath.Join(dir, "main.yaml"), NewResolver(start))
	require.NoError(t, err)
	assert.Equal(t, []JobSpec{{ID: "b", Command: "echo v1"}, {ID: "a", Command: "echo a"}}, f.Jobs)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"), NewResolver(start))
	assert.Error(t, err)
}

func TestExampleConfigParses(t *testing.T) {
	f, err := Parse([]byte(ExampleConfig), ".", NewResolver(start))
	require.NoError(t, err)
	assert.Len(t, f.Jobs, 3)
	assert.Equal(t, "train-small", f.Jobs[0].ID)
	assert.Contains(t, f.Jobs[2].Command, "runs/2024_0309_1405")
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"":      0,
		"1":     time.Second,
		"0.5":   500 * time.Millisecond,
		"2s":    2 * time.Second,
		"150ms": 150 * time.Millisecond,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDuration("-1")
	assert.Error(t, err)
}

func TestMergePrecedence(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	// Defaults only
	s, err := Merge(v, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.NumGPUs)
	assert.Equal(t, 500*time.Millisecond, s.Interval)
	assert.Equal(t, s.Interval, s.Linger, "linger defaults to one interval")
	assert.True(t, s.WatchStderr)
	assert.Equal(t, "CUDA_VISIBLE_DEVICES", s.EnvVar)

	off := false
	f := &File{NumGPUs: 3, Interval: Duration(2 * time.Second), SessionPrefix: "submas", WatchStderr: &off}

	v = viper.New()
	SetDefaults(v)
	v.Set(KeyNumGPUs, 5) // as a changed flag would
	s, err = Merge(v, f)
	require.NoError(t, err)
	assert.Equal(t, 5, s.NumGPUs)
	assert.Equal(t, 2*time.Second, s.Interval)
	assert.Equal(t, "submas", s.SessionPrefix)
	assert.False(t, s.WatchStderr)
}

func TestMergeEnvironment(t *testing.T) {
	t.Setenv("GPUSLOT_INTERVAL", "0.25")
	t.Setenv("GPUSLOT_LINGER", "0")

	v := viper.New()
	SetDefaults(v)
	s, err := Merge(v, &File{Interval: Duration(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, s.Interval)
	assert.Equal(t, time.Duration(0), s.Linger)
}

func TestValidate(t *testing.T) {
	base := Settings{NumGPUs: 1, Interval: time.Second, SessionPrefix: "gpuslot", EnvVar: "CUDA_VISIBLE_DEVICES"}
	require.NoError(t, base.Validate())

	tests := []struct {
		name string
		mod  func(s *Settings)
	}{
		{"zero cap", func(s *Settings) { s.NumGPUs = 0 }},
		{"zero interval", func(s *Settings) { s.Interval = 0 }},
		{"no prefix", func(s *Settings) { s.SessionPrefix = "" }},
		{"dotted prefix", func(s *Settings) { s.SessionPrefix = "a.b" }},
		{"no env var", func(s *Settings) { s.EnvVar = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mod(&s)
			assert.Error(t, s.Validate())
		})
	}
}
