package observe

import "time"

// Timing records when a job started and when it was seen finished
type Timing struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

// Start stamps the start time with now
func (t *Timing) Start(now time.Time) {
	t.StartedAt = now
	t.CompletedAt = time.Time{}
}

// Complete stamps the completion time with now
func (t *Timing) Complete(now time.Time) {
	t.CompletedAt = now
}

// Duration returns the observed runtime; zero before Start, and measured
// against now while still running.
func (t *Timing) Duration(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if t.CompletedAt.IsZero() {
		return now.Sub(t.StartedAt)
	}
	return t.CompletedAt.Sub(t.StartedAt)
}
