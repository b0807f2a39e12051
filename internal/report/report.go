package report

import (
	"sync"
	"time"

	"github.com/psantana5/gpuslot/internal/job"
)

// Snapshot is the ordered job list at one instant: submitted jobs in
// submission order, then the remaining queue in enqueue order.
type Snapshot struct {
	Iteration int          `json:"iteration"`
	At        time.Time    `json:"at"`
	Cap       int          `json:"cap"`
	Free      []int        `json:"free_gpus"`
	Held      []int        `json:"held_gpus"`
	Jobs      []job.Status `json:"jobs"`
	Finished  bool         `json:"finished"`

	// LaunchFailures counts spawns the session tool did not acknowledge
	LaunchFailures int `json:"launch_failures"`
}

// Count returns how many jobs are in state s
func (s Snapshot) Count(state job.State) int {
	n := 0
	for _, j := range s.Jobs {
		if j.State == state {
			n++
		}
	}
	return n
}

// Reporter consumes snapshots. Report is called from the scheduler loop
// and must not block it for long.
type Reporter interface {
	Report(s Snapshot)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(s Snapshot)

// Report calls f(s)
func (f ReporterFunc) Report(s Snapshot) { f(s) }

// Multi fans a snapshot out to several reporters in order
type Multi []Reporter

// Report forwards s to every reporter
func (m Multi) Report(s Snapshot) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}

// Latest keeps the most recent snapshot for concurrent readers
type Latest struct {
	mu   sync.RWMutex
	snap Snapshot
	ok   bool
}

// Report stores s
func (l *Latest) Report(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = s
	l.ok = true
}

// Get returns the last snapshot; ok is false before the first report
func (l *Latest) Get() (Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.ok
}
