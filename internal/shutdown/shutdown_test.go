package shutdown

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/gpuslot/internal/logging"
)

func TestShutdownRunsInReverseOnce(t *testing.T) {
	var logs bytes.Buffer
	m := New(time.Second, logging.NewLogger(&logs, logging.DEBUG, false))

	var order []string
	m.Register("first", func(context.Context) error { order = append(order, "first"); return nil })
	m.Register("second", func(context.Context) error { order = append(order, "second"); return errors.New("boom") })
	m.Register("third", func(context.Context) error { order = append(order, "third"); return nil })

	m.Shutdown()
	m.Shutdown()

	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Contains(t, logs.String(), "shutdown step failed")
	assert.Contains(t, logs.String(), "step=second")
}

func TestShutdownContextHasDeadline(t *testing.T) {
	m := New(50*time.Millisecond, nil)
	var deadline bool
	m.Register("check", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	m.Shutdown()
	assert.True(t, deadline)
}

func TestSignalContextCancelsWithParent(t *testing.T) {
	m := New(time.Second, nil)
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := m.SignalContext(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error { c.closed = true; return nil }

func TestCloseResource(t *testing.T) {
	c := &closer{}
	assert.NoError(t, CloseResource(c)(context.Background()))
	assert.True(t, c.closed)
}
