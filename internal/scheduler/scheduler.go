package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/psantana5/gpuslot/internal/device"
	"github.com/psantana5/gpuslot/internal/job"
	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/report"
	"github.com/psantana5/gpuslot/internal/session"
)

// Config holds the allocation parameters
type Config struct {
	Cap      int           // maximum devices held at once
	Interval time.Duration // pause between iterations
	Order    Order
	Pick     Picker
}

// Scheduler is the allocation loop. It is single-goroutine: iterations
// never overlap, and nothing else touches the queue or the jobs.
//
// Known limitation: a device read as free may be claimed by a foreign
// process between the probe and the launch. At most one job is submitted
// per iteration, so the window is one launch wide, but it is not closed.
type Scheduler struct {
	cfg      Config
	probe    *device.Probe
	sessions session.Manager
	reporter report.Reporter
	log      *logging.Logger

	queue     []*job.Job
	submitted []*job.Job
	iteration int
	lastFree  device.Set

	launchFailures int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithReporter sets the snapshot sink
func WithReporter(r report.Reporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithSleep replaces the inter-iteration sleep
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithClock replaces the snapshot clock
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler over an initial queue of pending jobs
func New(cfg Config, queue []*job.Job, probe *device.Probe, sessions session.Manager, opts ...Option) (*Scheduler, error) {
	if cfg.Cap < 1 {
		return nil, fmt.Errorf("concurrency cap must be at least 1, got %d", cfg.Cap)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Pick == nil {
		cfg.Pick = AnyDevice
	}

	seen := make(map[string]bool, len(queue))
	names := make(map[string]string, len(queue))
	errPaths := make(map[string]string, len(queue))
	for _, j := range queue {
		if seen[j.ID] {
			return nil, fmt.Errorf("duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
		if j.State() != job.Pending {
			return nil, fmt.Errorf("job %s: %w", j.ID, job.ErrNotPending)
		}
		// Sessions are found by name alone, so two ids sanitised to the
		// same name would share one session.
		if other, ok := names[j.SessionName()]; ok {
			return nil, fmt.Errorf("job ids %q and %q both map to session %s", other, j.ID, j.SessionName())
		}
		names[j.SessionName()] = j.ID
		if path := j.ErrPath(); path != "" {
			if other, ok := errPaths[path]; ok {
				return nil, fmt.Errorf("job ids %q and %q both map to error file %s", other, j.ID, path)
			}
			errPaths[path] = j.ID
		}
	}

	s := &Scheduler{
		cfg:      cfg,
		probe:    probe,
		sessions: sessions,
		reporter: report.Multi{},
		log:      logging.Discard(),
		queue:    append([]*job.Job(nil), queue...),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives iterations until the queue is empty and no job is running.
// It returns ctx.Err() if cancelled; spawned sessions are left alone.
func (s *Scheduler) Run(ctx context.Context) error {
	s.reporter.Report(s.Snapshot())

	for !s.Finished() {
		s.Step(ctx)

		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			s.reporter.Report(s.Snapshot())
			return err
		}
		s.reporter.Report(s.Snapshot())
	}

	s.log.Info("Completed all jobs", logging.Fields{"iterations": s.iteration})
	return nil
}

// Step runs one iteration without the trailing sleep: probe, maybe submit
// one job, then poll every submitted job. It returns the job submitted in
// this iteration, if any.
func (s *Scheduler) Step(ctx context.Context) *job.Job {
	s.iteration++

	held := s.Held()
	free, err := s.probe.Free(ctx)
	if err != nil {
		s.log.Warn("device probe failed, treating all devices as busy", logging.Fields{"error": err.Error()})
		free = device.NewSet()
	}
	available := free.Minus(held)
	s.lastFree = available

	var picked *job.Job
	if len(held) < s.cfg.Cap && len(available) > 0 && len(s.queue) > 0 {
		resource := s.cfg.Pick(available)
		next, rest := s.cfg.Order.pop(s.queue)

		s.queue = rest
		launch, err := next.Submit(ctx, resource)
		if err != nil {
			// The job was started outside this scheduler; it is dropped
			// and its device is not claimed.
			s.log.Error("submit rejected, dropping job", logging.Fields{"job_id": next.ID, "error": err.Error()})
		} else {
			s.submitted = append(s.submitted, next)
			if err := next.AwaitLaunch(launch); err != nil {
				s.launchFailures++
			}
			picked = next
		}
	}

	names := s.sessions.List(ctx)
	for _, j := range s.submitted {
		j.UpdateState(names)
	}
	return picked
}

// Held returns the devices held by running jobs. It is recomputed from job
// states on every call and never cached.
func (s *Scheduler) Held() device.Set {
	held := device.NewSet()
	for _, j := range s.submitted {
		if !j.IsRunning() {
			continue
		}
		if id, ok := j.Resource(); ok {
			held[id] = struct{}{}
		}
	}
	return held
}

// Finished reports whether the run is over
func (s *Scheduler) Finished() bool {
	if len(s.queue) > 0 {
		return false
	}
	for _, j := range s.submitted {
		if j.IsRunning() {
			return false
		}
	}
	return true
}

// Iteration returns the number of iterations run so far
func (s *Scheduler) Iteration() int {
	return s.iteration
}

// Jobs returns submitted jobs followed by the queue
func (s *Scheduler) Jobs() []*job.Job {
	out := make([]*job.Job, 0, len(s.submitted)+len(s.queue))
	out = append(out, s.submitted...)
	return append(out, s.queue...)
}

// Snapshot captures the current job list for reporting
func (s *Scheduler) Snapshot() report.Snapshot {
	snap := report.Snapshot{
		Iteration: s.iteration,
		At:        s.now(),
		Cap:       s.cfg.Cap,
		Held:      s.Held().Sorted(),
		Finished:  s.Finished(),

		LaunchFailures: s.launchFailures,
	}
	if s.lastFree != nil {
		snap.Free = s.lastFree.Sorted()
	}
	for _, j := range s.Jobs() {
		snap.Jobs = append(snap.Jobs, j.Status())
	}
	return snap
}

// KillAll kills every live session of this scheduler's jobs
func (s *Scheduler) KillAll(ctx context.Context) error {
	names := s.sessions.List(ctx)
	var errs []error
	for _, j := range s.submitted {
		if names.Has(j.SessionName()) {
			if err := s.sessions.Kill(ctx, j.SessionName()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
