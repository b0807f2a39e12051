package device

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

// Status is the probe's view of one device, enriched with host data
type Status struct {
	Index     int
	Free      bool
	Processes []ProcessDetail
}

// ProcessDetail is a compute process plus what the host knows about it
type ProcessDetail struct {
	Process
	User     string
	RSSBytes uint64
	OnHost   bool // false when the PID is not visible here (other namespace)
}

// Describe lists every device with its compute processes.
// Host lookups are best effort; a PID owned by another PID namespace is
// reported with OnHost=false.
func Describe(ctx context.Context, m Manager) ([]Status, error) {
	count, err := m.Count(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, count)
	for i := 0; i < count; i++ {
		procs, err := m.ComputeProcesses(ctx, i)
		if err != nil {
			return nil, err
		}
		st := Status{Index: i, Free: len(procs) == 0}
		for _, p := range procs {
			st.Processes = append(st.Processes, lookup(ctx, p))
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func lookup(ctx context.Context, p Process) ProcessDetail {
	detail := ProcessDetail{Process: p}

	proc, err := process.NewProcessWithContext(ctx, int32(p.PID))
	if err != nil {
		return detail
	}
	detail.OnHost = true

	if p.Name == "" {
		if name, err := proc.NameWithContext(ctx); err == nil {
			detail.Name = name
		}
	}
	if user, err := proc.UsernameWithContext(ctx); err == nil {
		detail.User = user
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		detail.RSSBytes = mem.RSS
	}
	return detail
}
