package observe

// The watcher only reads. Whatever it sees ends up in the log and nowhere
// else: job state is decided by session presence alone.

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/psantana5/gpuslot/internal/logging"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultGrace        = 4
)

// Config configures a stderr watcher
type Config struct {
	JobID  string
	Path   string // error-output file to follow
	Logger *logging.Logger

	// Alive reports whether the spawned process still runs. The watcher
	// stops once Alive has been false for Grace consecutive polls and the
	// file is drained. Nil means "alive until stopped".
	Alive func(ctx context.Context) bool

	PollInterval time.Duration
	Grace        int

	// OnDied is called once, from the watcher goroutine, on the first line
	OnDied func(jobID string)
}

// Watcher follows a job's stderr file in the background.
// Nothing joins it; the handle exists so a shutdown path can stop it.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
	died   atomic.Bool
	lines  atomic.Int64
}

// Start launches a watcher goroutine and returns its handle
func Start(cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.follow(ctx)
	return w
}

// Stop asks the watcher to exit
func (w *Watcher) Stop() {
	w.cancel()
}

// Done is closed when the watcher has exited
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Died reports whether any error output was seen
func (w *Watcher) Died() bool {
	return w.died.Load()
}

// Lines returns the number of non-empty lines forwarded so far
func (w *Watcher) Lines() int64 {
	return w.lines.Load()
}

func (w *Watcher) follow(ctx context.Context) {
	defer close(w.done)
	log := w.cfg.Logger.WithField("job_id", w.cfg.JobID)

	f, err := w.open(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Debug("stderr watcher gave up opening file", logging.Fields{"path": w.cfg.Path, "error": err.Error()})
		}
		return
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var partial strings.Builder
	misses := 0

	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			w.emit(log, partial.String())
			partial.Reset()
			continue
		}
		if !errors.Is(err, io.EOF) {
			log.Warn("stderr watcher read failed", logging.Fields{"error": err.Error()})
			return
		}

		// At EOF: decide whether more output can still arrive
		if w.alive(ctx) {
			misses = 0
		} else {
			misses++
		}
		if misses >= w.cfg.Grace {
			if partial.Len() > 0 {
				w.emit(log, partial.String())
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// open waits for the file to appear while the process is alive
func (w *Watcher) open(ctx context.Context) (*os.File, error) {
	misses := 0
	for {
		f, err := os.Open(w.cfg.Path)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		if !w.alive(ctx) {
			misses++
			if misses >= w.cfg.Grace {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Watcher) alive(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if w.cfg.Alive == nil {
		return true
	}
	return w.cfg.Alive(ctx)
}

// emit forwards one line. Any output at all is treated as failure, even a
// benign warning; only the first line raises the alarm.
func (w *Watcher) emit(log *logging.Logger, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.lines.Add(1)

	if w.died.CompareAndSwap(false, true) {
		log.Warn("job died", logging.Fields{"path": w.cfg.Path})
		if w.cfg.OnDied != nil {
			w.cfg.OnDied(w.cfg.JobID)
		}
	}
	log.Warn(line, logging.Fields{"stream": "stderr"})
}
