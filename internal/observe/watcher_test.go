package observe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psantana5/gpuslot/internal/logging"
)

// syncBuffer is a goroutine-safe bytes.Buffer
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitDone(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not exit")
	}
}

func TestWatcherFlagsFirstLineAndForwardsRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.err")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	var out syncBuffer
	var alive atomic.Bool
	alive.Store(true)
	var diedCalls atomic.Int32

	w := Start(Config{
		JobID:        "train-a",
		Path:         path,
		Logger:       logging.NewLogger(&out, logging.DEBUG, false),
		Alive:        func(ctx context.Context) bool { return alive.Load() },
		PollInterval: 10 * time.Millisecond,
		Grace:        2,
		OnDied:       func(string) { diedCalls.Add(1) },
	})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("Traceback (most recent call last):\n")
	f.WriteString("\n")
	f.WriteString("RuntimeError: CUDA out of memory\n")
	f.WriteString("no newline at end")
	f.Close()

	time.Sleep(50 * time.Millisecond)
	alive.Store(false)
	waitDone(t, w)

	if !w.Died() {
		t.Error("expected watcher to flag the job as died")
	}
	if got := diedCalls.Load(); got != 1 {
		t.Errorf("OnDied called %d times, want 1", got)
	}
	if got := w.Lines(); got != 3 {
		t.Errorf("Lines() = %d, want 3", got)
	}

	logged := out.String()
	if strings.Count(logged, "job died") != 1 {
		t.Errorf("expected exactly one 'job died' entry, got:\n%s", logged)
	}
	for _, want := range []string{"Traceback", "CUDA out of memory", "no newline at end", "job_id=train-a"} {
		if !strings.Contains(logged, want) {
			t.Errorf("log missing %q:\n%s", want, logged)
		}
	}
}

func TestWatcherQuietJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.err")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	w := Start(Config{
		JobID:        "quiet",
		Path:         path,
		Alive:        func(ctx context.Context) bool { return false },
		PollInterval: 5 * time.Millisecond,
		Grace:        2,
	})
	waitDone(t, w)

	if w.Died() {
		t.Error("quiet job must not be flagged")
	}
}

func TestWatcherMissingFileGivesUp(t *testing.T) {
	w := Start(Config{
		JobID:        "ghost",
		Path:         filepath.Join(t.TempDir(), "never.err"),
		Alive:        func(ctx context.Context) bool { return false },
		PollInterval: 5 * time.Millisecond,
		Grace:        2,
	})
	waitDone(t, w)
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.err")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	w := Start(Config{JobID: "long", Path: path, PollInterval: 5 * time.Millisecond})
	w.Stop()
	waitDone(t, w)
}

func TestTimingDuration(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var timing Timing

	if got := timing.Duration(base); got != 0 {
		t.Errorf("Duration() before start = %v, want 0", got)
	}

	timing.Start(base)
	if got := timing.Duration(base.Add(time.Minute)); got != time.Minute {
		t.Errorf("Duration() while running = %v, want 1m", got)
	}

	timing.Complete(base.Add(2 * time.Minute))
	if got := timing.Duration(base.Add(time.Hour)); got != 2*time.Minute {
		t.Errorf("Duration() after completion = %v, want 2m", got)
	}
}
