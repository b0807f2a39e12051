package device

import (
	"context"
	"fmt"
)

// Static is an in-memory Manager with a fixed device count.
// With no processes bound, every device always reads as free and only the
// scheduler's own claims limit allocation. Useful on hosts without a GPU
// driver and in tests.
type Static struct {
	count int
	procs map[int][]Process
}

// NewStatic creates a static manager with count devices
func NewStatic(count int) *Static {
	return &Static{
		count: count,
		procs: make(map[int][]Process),
	}
}

// Bind attaches an external process to a device
func (s *Static) Bind(index int, p Process) {
	s.procs[index] = append(s.procs[index], p)
}

// Release removes every process bound to a device
func (s *Static) Release(index int) {
	delete(s.procs, index)
}

// Count returns the configured device count
func (s *Static) Count(ctx context.Context) (int, error) {
	return s.count, nil
}

// ComputeProcesses returns the processes bound to index
func (s *Static) ComputeProcesses(ctx context.Context, index int) ([]Process, error) {
	if index < 0 || index >= s.count {
		return nil, fmt.Errorf("device index %d out of range", index)
	}
	procs := s.procs[index]
	out := make([]Process, len(procs))
	copy(out, procs)
	return out, nil
}
