package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DatetimeLayout is the default rendering of ${datetime}
const DatetimeLayout = "2006_0102_1504"

const maxDepth = 16

// Resolver expands ${...} interpolations in job-file values.
//
// Supported forms:
//
//	${datetime}          run start time, DatetimeLayout
//	${datetime:LAYOUT}   run start time, Go layout
//	${join:a,b,...}      filepath.Join of the arguments
//	${env:NAME}          environment variable, error if unset
//	${key}               top-level scalar of the same file
//
// Interpolations nest (${join:runs,${datetime}}); \${ is a literal "${".
type Resolver struct {
	start  time.Time
	lookup func(string) (string, bool)
	vars   map[string]string
}

// NewResolver creates a resolver pinned to the run start time
func NewResolver(start time.Time) *Resolver {
	return &Resolver{
		start:  start,
		lookup: os.LookupEnv,
		vars:   make(map[string]string),
	}
}

// WithEnv replaces the environment lookup
func (r *Resolver) WithEnv(lookup func(string) (string, bool)) *Resolver {
	r.lookup = lookup
	return r
}

// Define registers a raw value for ${key} references
func (r *Resolver) Define(key, raw string) {
	r.vars[key] = raw
}

// Resolve expands every interpolation in s
func (r *Resolver) Resolve(s string) (string, error) {
	return r.expand(s, 0)
}

func (r *Resolver) expand(s string, depth int) (string, error) {
	if depth > maxDepth {
		return "", fmt.Errorf("interpolation nested too deeply (cycle?) in %q", s)
	}
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var out strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], `\${`) {
			out.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(s[i:], "${") {
			out.WriteByte(s[i])
			i++
			continue
		}

		end := matchBrace(s, i+2)
		if end < 0 {
			return "", fmt.Errorf("unterminated interpolation in %q", s)
		}
		inner, err := r.expand(s[i+2:end], depth+1)
		if err != nil {
			return "", err
		}
		value, err := r.evaluate(inner, depth)
		if err != nil {
			return "", err
		}
		out.WriteString(value)
		i = end + 1
	}
	return out.String(), nil
}

// matchBrace returns the index of the "}" closing the "${" opened before from
func matchBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch {
		case strings.HasPrefix(s[i:], "${"):
			depth++
			i++
		case s[i] == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (r *Resolver) evaluate(expr string, depth int) (string, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(expr), ":")

	switch name {
	case "datetime":
		layout := DatetimeLayout
		if hasArg && arg != "" {
			layout = arg
		}
		return r.start.Format(layout), nil

	case "join":
		if !hasArg || arg == "" {
			return "", fmt.Errorf("${join} needs at least one argument")
		}
		parts := strings.Split(arg, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return filepath.Join(parts...), nil

	case "env":
		if !hasArg || arg == "" {
			return "", fmt.Errorf("${env} needs a variable name")
		}
		v, ok := r.lookup(arg)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", arg)
		}
		return v, nil
	}

	if hasArg {
		return "", fmt.Errorf("unknown resolver %q", name)
	}
	raw, ok := r.vars[name]
	if !ok {
		return "", fmt.Errorf("unresolved interpolation ${%s}", name)
	}
	return r.expand(raw, depth+1)
}
