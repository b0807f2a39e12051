package job

import "time"

// Status is a read-only copy of a job for reporting
type Status struct {
	ID       string        `json:"id"`
	State    State         `json:"state"`
	Resource *int          `json:"gpu"`
	Active   bool          `json:"active"`
	Died     bool          `json:"died,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
	Session  string        `json:"session"`
}

// Status snapshots the job. Safe to hand to other goroutines.
func (j *Job) Status() Status {
	st := Status{
		ID:      j.ID,
		State:   j.state,
		Active:  j.IsRunning(),
		Session: j.SessionName(),
	}
	if id, ok := j.Resource(); ok {
		st.Resource = &id
		st.Duration = j.Duration()
	}
	if j.watcher != nil {
		st.Died = j.watcher.Died()
	}
	return st
}
