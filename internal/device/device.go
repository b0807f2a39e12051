package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnavailable is returned when the device manager cannot be initialised
var ErrUnavailable = errors.New("device manager unavailable")

// Process is a compute process bound to a device
type Process struct {
	PID          int
	Name         string
	Type         string
	UsedMemoryMB float64
}

// Manager is the capability surface the scheduler needs from a vendor
// device API: a device count and the compute processes bound to an index.
type Manager interface {
	Count(ctx context.Context) (int, error)
	ComputeProcesses(ctx context.Context, index int) ([]Process, error)
}

// Set is a set of device indices
type Set map[int]struct{}

// NewSet builds a set from indices
func NewSet(indices ...int) Set {
	s := make(Set, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports membership
func (s Set) Has(index int) bool {
	_, ok := s[index]
	return ok
}

// Minus returns the indices of s not present in other
func (s Set) Minus(other Set) Set {
	out := make(Set, len(s))
	for i := range s {
		if !other.Has(i) {
			out[i] = struct{}{}
		}
	}
	return out
}

// Sorted returns the indices in ascending order, for display only.
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Probe answers "which devices are free right now".
//
// The answer is a point-in-time snapshot and races with submissions made in
// the same iteration: a process launched a moment ago may not be bound to its
// device yet. Callers subtract their own claims; there is no reservation.
type Probe struct {
	manager Manager
}

// NewProbe creates a probe over a device manager
func NewProbe(m Manager) *Probe {
	return &Probe{manager: m}
}

// Free returns the indices whose compute-process list is empty
func (p *Probe) Free(ctx context.Context) (Set, error) {
	count, err := p.manager.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}

	free := make(Set, count)
	for i := 0; i < count; i++ {
		procs, err := p.manager.ComputeProcesses(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to list compute processes on device %d: %w", i, err)
		}
		if len(procs) == 0 {
			free[i] = struct{}{}
		}
	}
	return free, nil
}
