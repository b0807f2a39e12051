package device

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/psantana5/gpuslot/internal/retry"
)

// Runner executes an external command and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// nvidia-smi -q -x structures (only the fields the probe reads)
type smiLog struct {
	XMLName      xml.Name `xml:"nvidia_smi_log"`
	AttachedGPUs int      `xml:"attached_gpus"`
	GPUs         []smiGPU `xml:"gpu"`
}

type smiGPU struct {
	ID          string           `xml:"id,attr"`
	ProductName string           `xml:"product_name"`
	MinorNumber string           `xml:"minor_number"`
	Processes   []smiProcessInfo `xml:"processes>process_info"`
}

type smiProcessInfo struct {
	PID         int    `xml:"pid"`
	Type        string `xml:"type"`
	ProcessName string `xml:"process_name"`
	UsedMemory  string `xml:"used_memory"`
}

// NvidiaSMI implements Manager by shelling out to nvidia-smi
type NvidiaSMI struct {
	binary string
	run    Runner
}

// NewNvidiaSMI verifies nvidia-smi answers and returns a manager.
// Failure here is fatal for the scheduler: no job may start without a probe.
func NewNvidiaSMI(ctx context.Context, binary string) (*NvidiaSMI, error) {
	return newNvidiaSMI(ctx, binary, execRunner, retry.DefaultConfig())
}

// The driver can answer slowly right after boot or a persistence-mode change,
// so the first listing is retried. A missing binary is not.
func newNvidiaSMI(ctx context.Context, binary string, run Runner, policy retry.Config) (*NvidiaSMI, error) {
	if binary == "" {
		binary = "nvidia-smi"
	}
	n := &NvidiaSMI{binary: binary, run: run}
	err := retry.Do(ctx, policy, func() error {
		_, err := n.run(ctx, n.binary, "-L")
		if errors.Is(err, exec.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s -L: %v", ErrUnavailable, n.binary, err)
	}
	return n, nil
}

// Count returns the number of attached GPUs
func (n *NvidiaSMI) Count(ctx context.Context) (int, error) {
	out, err := n.run(ctx, n.binary, "-L")
	if err != nil {
		return 0, fmt.Errorf("failed to list GPUs: %w", err)
	}

	count := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "GPU ") {
			count++
		}
	}
	return count, nil
}

// ComputeProcesses returns compute processes (type C or C+G) on a GPU
func (n *NvidiaSMI) ComputeProcesses(ctx context.Context, index int) ([]Process, error) {
	out, err := n.run(ctx, n.binary, "-i", strconv.Itoa(index), "-q", "-x")
	if err != nil {
		return nil, fmt.Errorf("failed to query GPU %d: %w", index, err)
	}

	var log smiLog
	if err := xml.Unmarshal(out, &log); err != nil {
		return nil, fmt.Errorf("failed to parse nvidia-smi XML: %w", err)
	}
	if len(log.GPUs) == 0 {
		return nil, fmt.Errorf("nvidia-smi returned no GPU for index %d", index)
	}

	var procs []Process
	for _, p := range log.GPUs[0].Processes {
		if !strings.Contains(p.Type, "C") {
			continue // graphics-only
		}
		procs = append(procs, Process{
			PID:          p.PID,
			Name:         p.ProcessName,
			Type:         p.Type,
			UsedMemoryMB: parseMiB(p.UsedMemory),
		})
	}
	return procs, nil
}

// parseMiB extracts the number from values like "1234 MiB"
func parseMiB(s string) float64 {
	parts := strings.Fields(strings.TrimSpace(s))
	if len(parts) == 0 {
		return 0
	}
	val, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	return val
}
