package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/gpuslot/internal/job"
)

func intp(i int) *int { return &i }

func sampleSnapshot() Snapshot {
	return Snapshot{
		Iteration: 7,
		At:        time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Cap:       2,
		Free:      []int{1},
		Held:      []int{0},
		Jobs: []job.Status{
			{ID: "train-c", State: job.Done, Resource: intp(1)},
			{ID: "train-b", State: job.Running, Resource: intp(0), Active: true, Died: true},
			{ID: "train-a", State: job.Pending},
		},
	}
}

func TestTableRendersEveryJob(t *testing.T) {
	var out bytes.Buffer
	NewTable(&out, false, false).Report(sampleSnapshot())

	text := out.String()
	for _, want := range []string{"JOB ID", "train-a", "train-b", "train-c", "PENDING", "RUNNING (stderr)", "DONE", "iteration 7"} {
		assert.Contains(t, strings.ToUpper(text), strings.ToUpper(want))
	}
	assert.NotContains(t, text, "\033[", "no ANSI codes when colour is off")

	// Snapshot order is kept
	assert.Less(t, strings.Index(text, "train-c"), strings.Index(text, "train-b"))
	assert.Less(t, strings.Index(text, "train-b"), strings.Index(text, "train-a"))
}

func TestTableLiveClearsScreen(t *testing.T) {
	var out bytes.Buffer
	NewTable(&out, true, true).Report(sampleSnapshot())
	assert.True(t, strings.HasPrefix(out.String(), clearHome))
	assert.Contains(t, out.String(), ansiGreen)
}

func TestJSONLines(t *testing.T) {
	var out bytes.Buffer
	r := NewJSONLines(&out)
	r.Report(sampleSnapshot())
	r.Report(sampleSnapshot())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var decoded struct {
		Iteration int `json:"iteration"`
		Jobs      []struct {
			ID    string `json:"id"`
			State string `json:"state"`
			GPU   *int   `json:"gpu"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, 7, decoded.Iteration)
	require.Len(t, decoded.Jobs, 3)
	assert.Equal(t, "DONE", decoded.Jobs[0].State)
	assert.Equal(t, 1, *decoded.Jobs[0].GPU)
	assert.Nil(t, decoded.Jobs[2].GPU)
}

func TestMultiAndLatest(t *testing.T) {
	var latest Latest
	_, ok := latest.Get()
	assert.False(t, ok)

	calls := 0
	Multi{&latest, nil, ReporterFunc(func(Snapshot) { calls++ })}.Report(sampleSnapshot())

	got, ok := latest.Get()
	assert.True(t, ok)
	assert.Equal(t, 7, got.Iteration)
	assert.Equal(t, 1, calls)
}

func TestSummarize(t *testing.T) {
	sum := Summarize(sampleSnapshot(), 90*time.Second)
	assert.Equal(t, Summary{Jobs: 3, Done: 1, Running: 1, Pending: 1, WithStderr: 1, Iterations: 7, Elapsed: 90 * time.Second}, sum)
	assert.Equal(t, "jobs=3 done=1 running=1 pending=1 stderr=1 iterations=7 elapsed=1m30s", sum.String())
	assert.Equal(t, 1, sampleSnapshot().Count(job.Running))
}
