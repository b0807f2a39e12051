package session

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Manager tracks named detached execution contexts. The scheduler depends
// only on name-based existence checks, never on process identifiers.
type Manager interface {
	// List returns the live session names. A failed query is an empty set.
	List(ctx context.Context) Names
	// Spawn starts argv in a new detached session called name.
	Spawn(ctx context.Context, name string, argv []string) *Launch
	// Kill terminates the session called name.
	Kill(ctx context.Context, name string) error
}

// PIDResolver is implemented by managers that can map a session to the
// PID of the process it runs.
type PIDResolver interface {
	PanePID(ctx context.Context, name string) (int, error)
}

// Names is a set of session names
type Names map[string]struct{}

// NewNames builds a set from names
func NewNames(names ...string) Names {
	n := make(Names, len(names))
	for _, name := range names {
		n[name] = struct{}{}
	}
	return n
}

// Has reports whether name is live
func (n Names) Has(name string) bool {
	_, ok := n[name]
	return ok
}

// WithPrefix returns the names starting with prefix, sorted
func (n Names) WithPrefix(prefix string) []string {
	var out []string
	for name := range n {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Launch is the handle of an in-flight spawn. Wait returns once the session
// tool has acknowledged the launch; it says nothing about the job itself.
type Launch struct {
	wait func() error
	once sync.Once
	err  error
}

// NewLaunch wraps a wait function. wait is called at most once.
func NewLaunch(wait func() error) *Launch {
	return &Launch{wait: wait}
}

// Failed returns a launch that has already failed with err
func Failed(err error) *Launch {
	return NewLaunch(func() error { return err })
}

// Acknowledged returns a launch that has already succeeded
func Acknowledged() *Launch {
	return NewLaunch(func() error { return nil })
}

// Wait blocks until the launch is acknowledged or failed
func (l *Launch) Wait() error {
	l.once.Do(func() {
		if l.wait != nil {
			l.err = l.wait()
		}
	})
	return l.err
}

// tmux rewrites '.' and ':' in session names, which would make the
// session unfindable under the name we asked for.
var nameReplacer = strings.NewReplacer(".", "_", ":", "_")

// Name builds the deterministic session name for a job
func Name(prefix, jobID string) string {
	return nameReplacer.Replace(prefix + "-" + jobID)
}
