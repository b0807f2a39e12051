package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fast(attempts int) Config {
	return Config{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo(t *testing.T) {
	errFlaky := errors.New("flaky")

	tests := []struct {
		name      string
		failures  int
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 0, 3, 1, false},
		{"succeeds on last attempt", 2, 3, 3, false},
		{"exhausted", 5, 3, 3, true},
		{"zero attempts means one", 5, 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), fast(tt.attempts), func() error {
				calls++
				if calls <= tt.failures {
					return errFlaky
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errFlaky)
				assert.Contains(t, err.Error(), "gave up after")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	errBad := errors.New("bad binary")
	calls := 0
	err := Do(context.Background(), fast(5), func() error {
		calls++
		return Permanent(errBad)
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, errBad, err)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{Attempts: 10, InitialBackoff: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("busy")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}
