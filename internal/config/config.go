package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNoJobs is returned when a job file defines no jobs
var ErrNoJobs = errors.New("no jobs defined")

// JobSpec is one entry of the jobs mapping, in file order
type JobSpec struct {
	ID      string
	Command string
}

// File is a parsed job file
type File struct {
	NumGPUs       int      `yaml:"num_gpus"`
	NumAllocGPUs  int      `yaml:"num_alloc_gpus"` // older spelling of num_gpus
	Interval      Duration `yaml:"interval"`
	Order         string   `yaml:"order"`
	DevicePolicy  string   `yaml:"device_policy"`
	SessionPrefix string   `yaml:"session_prefix"`
	LogPath       string   `yaml:"log_path"`
	ErrDir        string   `yaml:"err_dir"`
	WatchStderr   *bool    `yaml:"watch_stderr"`
	EnvVar        string   `yaml:"env_var"`
	Shell         string   `yaml:"shell"`
	Linger        Duration `yaml:"linger"`

	Jobs []JobSpec `yaml:"-"`
}

// Duration accepts either a number of seconds (0.5) or a Go duration ("500ms")
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses float seconds or a Go duration string
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (seconds or Go duration)", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

var openRef = regexp.MustCompile(`^\$\{open:(.+)\}$`)

// LoadFile reads and resolves a job file. Relative ${open:...} paths are
// taken from the file's directory.
func LoadFile(path string, r *Resolver) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	f, err := Parse(data, filepath.Dir(path), r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a job file. The jobs mapping keeps file order, which the
// scheduler's submission order depends on.
func Parse(data []byte, baseDir string, r *Resolver) (*File, error) {
	root, err := mappingRoot(data)
	if err != nil {
		return nil, err
	}

	var jobsNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value == "jobs" {
			jobsNode = value
			continue
		}
		if value.Kind == yaml.ScalarNode {
			r.Define(key.Value, value.Value)
		}
	}

	// Resolve everything except jobs first so ${key} sees raw values
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "jobs" {
			continue
		}
		if err := resolveTree(root.Content[i+1], r); err != nil {
			return nil, fmt.Errorf("%s: %w", root.Content[i].Value, err)
		}
	}

	var f File
	if err := root.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if f.NumGPUs == 0 {
		f.NumGPUs = f.NumAllocGPUs
	}

	if jobsNode == nil {
		return nil, ErrNoJobs
	}
	if m := openRef.FindStringSubmatch(strings.TrimSpace(jobsNode.Value)); jobsNode.Kind == yaml.ScalarNode && m != nil {
		jobsNode, err = openJobs(m[1], baseDir, r)
		if err != nil {
			return nil, err
		}
	}
	if f.Jobs, err = decodeJobs(jobsNode, r); err != nil {
		return nil, err
	}
	return &f, nil
}

func mappingRoot(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrNoJobs
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("job file must be a mapping, got %s", kindName(root.Kind))
	}
	return root, nil
}

// openJobs loads the jobs mapping from another file: either its own "jobs"
// key or, failing that, its whole top-level mapping.
func openJobs(ref, baseDir string, r *Resolver) (*yaml.Node, error) {
	ref, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(ref) {
		ref = filepath.Join(baseDir, ref)
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to open jobs file: %w", err)
	}
	root, err := mappingRoot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "jobs" {
			return root.Content[i+1], nil
		}
	}
	return root, nil
}

func decodeJobs(node *yaml.Node, r *Resolver) ([]JobSpec, error) {
	if node.Kind == yaml.ScalarNode && (node.Tag == "!!null" || node.Value == "") {
		return nil, ErrNoJobs
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("jobs must be a mapping of job id to command, got %s", kindName(node.Kind))
	}

	jobs := make([]JobSpec, 0, len(node.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		id := strings.TrimSpace(key.Value)
		if id == "" {
			return nil, fmt.Errorf("line %d: empty job id", key.Line)
		}
		if seen[id] {
			return nil, fmt.Errorf("line %d: duplicate job id %q", key.Line, id)
		}
		seen[id] = true

		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("job %s: command must be a string", id)
		}
		cmd, err := r.Resolve(value.Value)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", id, err)
		}
		if strings.TrimSpace(cmd) == "" {
			return nil, fmt.Errorf("job %s: empty command", id)
		}
		jobs = append(jobs, JobSpec{ID: id, Command: cmd})
	}
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}
	return jobs, nil
}

// resolveTree expands interpolations in every scalar under n. Scalars that
// change lose their tag so the decoder re-infers int, float or bool.
func resolveTree(n *yaml.Node, r *Resolver) error {
	switch n.Kind {
	case yaml.ScalarNode:
		v, err := r.Resolve(n.Value)
		if err != nil {
			return err
		}
		if v != n.Value {
			n.Value = v
			n.Tag = ""
			n.Style = 0
		}
	case yaml.MappingNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := resolveTree(c, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// ExampleConfig is printed by `gpuslot example-config`
const ExampleConfig = `# gpuslot job file

# Devices this run may hold at once
num_gpus: 2

# Seconds between scheduler iterations (or a duration such as "500ms")
interval: 1.0

# lifo submits the last job first; fifo keeps file order
order: lifo

# any | lowest
device_policy: any

session_prefix: gpuslot
log_path: gpuslot.log
watch_stderr: true

lr: 0.001
out: ${join:runs,${datetime}}

jobs:
  train-small: python train.py --lr ${lr} --width 256 --out ${out}/small
  train-large: python train.py --lr ${lr} --width 1024 --out ${out}/large
  eval: python eval.py --ckpt ${out}
`
