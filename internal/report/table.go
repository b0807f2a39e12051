package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/gpuslot/internal/job"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiGreen = "\033[32m"
	ansiGrey  = "\033[90m"
	ansiBold  = "\033[1m"
	clearHome = "\033[H\033[2J"
)

var palette = map[job.State]string{
	job.Running: ansiRed,
	job.Done:    ansiGreen,
	job.Pending: ansiGrey,
}

var spinnerFrames = []string{"▹▹▹▹▹", "▸▹▹▹▹", "▹▸▹▹▹", "▹▹▸▹▹", "▹▹▹▸▹", "▹▹▹▹▸"}

// Table renders snapshots as a status table
type Table struct {
	out   io.Writer
	live  bool // redraw in place
	color bool
}

// NewTable creates a table reporter. live redraws the screen on every
// snapshot; color adds ANSI colours per state.
func NewTable(out io.Writer, live, color bool) *Table {
	return &Table{out: out, live: live, color: color}
}

// Report renders s
func (t *Table) Report(s Snapshot) {
	var buf bytes.Buffer
	if t.live {
		buf.WriteString(clearHome)
	}

	table := tablewriter.NewWriter(&buf)
	table.Header("", "Job Id", "Status", "GPU")
	for _, j := range s.Jobs {
		progress := ""
		if j.Active {
			progress = t.paint(ansiRed, spinnerFrames[s.Iteration%len(spinnerFrames)])
		}
		status := j.State.String()
		if j.Died {
			status += " (stderr)"
		}
		table.Append(progress, j.ID, t.paint(palette[j.State], status), gpuLabel(j.Resource))
	}
	table.Render()

	fmt.Fprintf(&buf, "%s  cap %d | held %v | free %v\n",
		t.paint(ansiBold, fmt.Sprintf("iteration %d", s.Iteration)), s.Cap, s.Held, s.Free)

	t.out.Write(buf.Bytes())
}

func (t *Table) paint(code, s string) string {
	if !t.color || code == "" || s == "" {
		return s
	}
	return code + s + ansiReset
}

func gpuLabel(resource *int) string {
	if resource == nil {
		return ""
	}
	return strconv.Itoa(*resource)
}
