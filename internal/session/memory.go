package session

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Manager. Spawned sessions stay live until
// Finish or Kill removes them. It backs tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	live     Names
	spawned  []Spawned
	silent   map[string]bool
	failures map[string]error
}

// Spawned records one Spawn call
type Spawned struct {
	Name string
	Argv []string
}

// NewMemory creates an empty in-memory session manager
func NewMemory() *Memory {
	return &Memory{
		live:     Names{},
		silent:   make(map[string]bool),
		failures: make(map[string]error),
	}
}

// Silence makes the next spawn of name acknowledge without creating the
// session, mimicking a launch that reports success but never shows up.
func (m *Memory) Silence(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent[name] = true
}

// FailNext makes the next spawn of name fail with err
func (m *Memory) FailNext(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
}

// Start marks name live without a Spawn
func (m *Memory) Start(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[name] = struct{}{}
}

// Finish ends a session as if its command exited
func (m *Memory) Finish(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, name)
}

// Spawns returns every Spawn call so far, in order
func (m *Memory) Spawns() []Spawned {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Spawned, len(m.spawned))
	copy(out, m.spawned)
	return out
}

// List returns a copy of the live names
func (m *Memory) List(ctx context.Context) Names {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Names, len(m.live))
	for n := range m.live {
		out[n] = struct{}{}
	}
	return out
}

// Spawn registers name as live
func (m *Memory) Spawn(ctx context.Context, name string, argv []string) *Launch {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.spawned = append(m.spawned, Spawned{Name: name, Argv: append([]string(nil), argv...)})

	if err, ok := m.failures[name]; ok {
		delete(m.failures, name)
		return Failed(err)
	}
	if m.live.Has(name) {
		return Failed(fmt.Errorf("duplicate session: %s", name))
	}
	if m.silent[name] {
		delete(m.silent, name)
		return Acknowledged()
	}
	m.live[name] = struct{}{}
	return Acknowledged()
}

// Kill removes a live session
func (m *Memory) Kill(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live.Has(name) {
		return fmt.Errorf("can't find session: %s", name)
	}
	delete(m.live, name)
	return nil
}
