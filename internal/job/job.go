package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/observe"
	"github.com/psantana5/gpuslot/internal/session"
	"github.com/psantana5/gpuslot/internal/wrapper"
)

// ErrNotPending is returned when submitting a job that already left the queue
var ErrNotPending = errors.New("job is not pending")

// State is the job lifecycle. It only ever moves forward:
// Pending → Running → Done.
type State int

const (
	Pending State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state label
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state label
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Pending, Running, Done} {
		if string(text) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", text)
}

// Transition is one entry of a job's state history
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

var fileReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Runtime is what every job of one scheduler run shares
type Runtime struct {
	Sessions      session.Manager
	SessionPrefix string

	Executable string        // wrapper binary started inside the session
	DeviceEnv  string        // variable scoping the child to its device
	Shell      string        // interpreter for the command line
	Linger     time.Duration // minimum session lifetime, see wrapper.Spec

	ErrDir      string // directory of per-job stderr files
	WatchStderr bool

	Logger *logging.Logger
	Now    func() time.Time

	// OnSubmit, OnDone and OnDied observe transitions (metrics)
	OnSubmit func(j *Job)
	OnDone   func(j *Job)
	OnDied   func(jobID string)
}

func (rt *Runtime) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

// Job is one externally-defined command and its lifecycle
type Job struct {
	ID      string
	Command string

	rt          *Runtime
	log         *logging.Logger
	state       State
	resource    int
	sessionSeen bool
	errPath     string
	history     []Transition
	timing      observe.Timing
	watcher     *observe.Watcher
}

// New creates a pending job
func New(id, command string, rt *Runtime) *Job {
	log := rt.Logger
	if log == nil {
		log = logging.Discard()
	}
	j := &Job{
		ID:      id,
		Command: command,
		rt:      rt,
		log:     log.WithField("job_id", id),
		state:   Pending,
	}
	if rt.ErrDir != "" {
		j.errPath = filepath.Join(rt.ErrDir, fileReplacer.Replace(id)+".err")
	}
	j.history = []Transition{{State: Pending, At: rt.now()}}
	return j
}

// State returns the current state
func (j *Job) State() State {
	return j.state
}

// IsRunning reports whether the job currently holds its resource
func (j *Job) IsRunning() bool {
	return j.state == Running
}

// Resource returns the assigned resource id; ok is false while Pending
func (j *Job) Resource() (id int, ok bool) {
	switch j.state {
	case Running, Done:
		return j.resource, true
	default:
		return 0, false
	}
}

// SessionName is the deterministic session name of this job
func (j *Job) SessionName() string {
	return session.Name(j.rt.SessionPrefix, j.ID)
}

// ErrPath is the job's dedicated error-output file
func (j *Job) ErrPath() string {
	return j.errPath
}

// History returns the recorded transitions, oldest first
func (j *Job) History() []Transition {
	out := make([]Transition, len(j.history))
	copy(out, j.history)
	return out
}

// Watcher returns the stderr watcher handle, nil when not watching
func (j *Job) Watcher() *observe.Watcher {
	return j.watcher
}

// Duration returns how long the job has been (or was) running
func (j *Job) Duration() time.Duration {
	return j.timing.Duration(j.rt.now())
}

func (j *Job) transition(to State) {
	j.state = to
	j.history = append(j.history, Transition{State: to, At: j.rt.now()})
}

// Submit launches the job on resourceID in a new detached session and
// moves it to Running. The returned launch must be awaited for the
// session tool's acknowledgment; the job itself keeps running.
func (j *Job) Submit(ctx context.Context, resourceID int) (*session.Launch, error) {
	switch j.state {
	case Pending:
	case Running, Done:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, j.ID, j.state)
	default:
		return nil, fmt.Errorf("job %s in unknown state %d", j.ID, int(j.state))
	}

	j.prepareErrFile()

	argv := wrapper.Argv(j.rt.Executable, wrapper.Spec{
		Device:     resourceID,
		DeviceEnv:  j.rt.DeviceEnv,
		StderrPath: j.errPath,
		Shell:      j.rt.Shell,
		Command:    j.Command,
		Linger:     j.rt.Linger,
	})
	launch := j.rt.Sessions.Spawn(ctx, j.SessionName(), argv)

	j.resource = resourceID
	j.transition(Running)
	j.timing.Start(j.rt.now())
	j.log.Info("submitted", logging.Fields{"gpu": resourceID, "session": j.SessionName()})

	if j.rt.OnSubmit != nil {
		j.rt.OnSubmit(j)
	}
	if j.rt.WatchStderr && j.errPath != "" {
		j.watcher = observe.Start(observe.Config{
			JobID:  j.ID,
			Path:   j.errPath,
			Logger: j.rt.Logger,
			Alive:  j.alive(),
			OnDied: j.rt.OnDied,
		})
	}
	return launch, nil
}

// AwaitLaunch blocks on the launch acknowledgment. A failed launch is only
// logged: the job stays Running until its session is seen and then gone.
func (j *Job) AwaitLaunch(launch *session.Launch) error {
	if launch == nil {
		return nil
	}
	if err := launch.Wait(); err != nil {
		j.log.Error("launch failed", logging.Fields{"error": err.Error()})
		return err
	}
	return nil
}

// UpdateState advances a Running job to Done once its session, having been
// observed live at least once, is absent from names. Pending and Done jobs
// are left alone.
func (j *Job) UpdateState(names session.Names) {
	switch j.state {
	case Pending, Done:
		return
	case Running:
		if names.Has(j.SessionName()) {
			j.sessionSeen = true
			return
		}
		if !j.sessionSeen {
			return
		}
		j.transition(Done)
		j.timing.Complete(j.rt.now())
		j.log.Info("done", logging.Fields{"gpu": j.resource, "duration": j.Duration().Round(time.Second).String()})
		if j.rt.OnDone != nil {
			j.rt.OnDone(j)
		}
	}
}

// prepareErrFile empties the error file so the watcher never reads output
// left by an earlier run.
func (j *Job) prepareErrFile() {
	if j.errPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(j.errPath), 0755); err != nil {
		j.log.Warn("failed to create error-output directory", logging.Fields{"error": err.Error()})
		return
	}
	if err := os.WriteFile(j.errPath, nil, 0644); err != nil {
		j.log.Warn("failed to reset error-output file", logging.Fields{"error": err.Error()})
	}
}

// alive builds the watcher's liveness check: the session's pane process when
// the manager can resolve it, the session's presence otherwise.
func (j *Job) alive() func(ctx context.Context) bool {
	name := j.SessionName()
	sessions := j.rt.Sessions
	resolver, canResolve := sessions.(session.PIDResolver)
	pid := 0

	return func(ctx context.Context) bool {
		if canResolve && pid == 0 {
			if p, err := resolver.PanePID(ctx, name); err == nil {
				pid = p
			}
		}
		if pid != 0 {
			exists, err := process.PidExistsWithContext(ctx, int32(pid))
			return err == nil && exists
		}
		return sessions.List(ctx).Has(name)
	}
}
