package scheduler

import (
	"fmt"
	"strings"

	"github.com/psantana5/gpuslot/internal/device"
	"github.com/psantana5/gpuslot/internal/job"
)

// Order decides which queued job is submitted next
type Order int

const (
	// LIFO submits the most recently enqueued job first (tail pop). This is
	// the historical behaviour and the default.
	LIFO Order = iota
	// FIFO submits jobs in configuration order
	FIFO
)

func (o Order) String() string {
	switch o {
	case LIFO:
		return "lifo"
	case FIFO:
		return "fifo"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// ParseOrder parses "lifo" or "fifo"; empty means LIFO
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lifo", "tail":
		return LIFO, nil
	case "fifo", "head":
		return FIFO, nil
	default:
		return LIFO, fmt.Errorf("unknown submission order %q (want lifo or fifo)", s)
	}
}

// pop removes the next job from queue according to o
func (o Order) pop(queue []*job.Job) (*job.Job, []*job.Job) {
	switch o {
	case FIFO:
		return queue[0], queue[1:]
	default:
		last := len(queue) - 1
		return queue[last], queue[:last]
	}
}

// Picker chooses one device from a non-empty available set
type Picker func(available device.Set) int

// AnyDevice picks an arbitrary device. Map iteration order is unspecified,
// so callers must not rely on getting the lowest index.
func AnyDevice(available device.Set) int {
	for id := range available {
		return id
	}
	return -1
}

// LowestDevice picks the lowest free index
func LowestDevice(available device.Set) int {
	sorted := available.Sorted()
	if len(sorted) == 0 {
		return -1
	}
	return sorted[0]
}

// ParsePicker parses "any" or "lowest"; empty means any
func ParsePicker(s string) (Picker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return AnyDevice, nil
	case "lowest":
		return LowestDevice, nil
	default:
		return nil, fmt.Errorf("unknown device policy %q (want any or lowest)", s)
	}
}
