package report

import (
	"fmt"
	"time"

	"github.com/psantana5/gpuslot/internal/job"
)

// Summary is the one-line account of a finished run
type Summary struct {
	Jobs       int
	Done       int
	Running    int
	Pending    int
	WithStderr int
	Iterations int
	Elapsed    time.Duration
}

// Summarize builds a summary from the final snapshot
func Summarize(s Snapshot, elapsed time.Duration) Summary {
	sum := Summary{
		Jobs:       len(s.Jobs),
		Iterations: s.Iteration,
		Elapsed:    elapsed,
	}
	for _, j := range s.Jobs {
		switch j.State {
		case job.Pending:
			sum.Pending++
		case job.Running:
			sum.Running++
		case job.Done:
			sum.Done++
		}
		if j.Died {
			sum.WithStderr++
		}
	}
	return sum
}

// String renders the summary the way ops grep for it
func (s Summary) String() string {
	return fmt.Sprintf("jobs=%d done=%d running=%d pending=%d stderr=%d iterations=%d elapsed=%s",
		s.Jobs, s.Done, s.Running, s.Pending, s.WithStderr, s.Iterations, s.Elapsed.Round(time.Second))
}
