package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/gpuslot/internal/logging"
)

// Manager runs cleanup functions once, in reverse registration order, when
// the run ends or a signal arrives.
type Manager struct {
	mu      sync.Mutex
	funcs   []namedFunc
	timeout time.Duration
	log     *logging.Logger
	once    sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a shutdown manager whose cleanup is bounded by timeout
func New(timeout time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{timeout: timeout, log: log}
}

// Register adds a cleanup function
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Shutdown runs every registered function (LIFO). Only the first call does
// anything; errors are logged and do not stop the remaining functions.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		funcs := append([]namedFunc(nil), m.funcs...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			if err := f.fn(ctx); err != nil {
				m.log.Warn("shutdown step failed", logging.Fields{"step": f.name, "error": err.Error()})
				continue
			}
			m.log.Debug("shutdown step complete", logging.Fields{"step": f.name})
		}
	})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal is left to the default handler, so a stuck run can still be killed.
func (m *Manager) SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			m.log.Warn("received signal, stopping scheduler", logging.Fields{"signal": sig.String()})
			signal.Stop(sigs)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigs)
		}
	}()
	return ctx, cancel
}

// StopHTTPServer creates a shutdown function for an http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop status server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for an io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
