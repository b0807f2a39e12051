package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/gpuslot/internal/logging"
	"github.com/psantana5/gpuslot/internal/report"
)

// WriteTextfile writes every family of g to path in the text exposition
// format, for node_exporter's textfile collector. The file is replaced
// atomically.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".gpuslot-metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Textfile is a reporter that refreshes the gauges and rewrites the
// textfile export on every snapshot.
type Textfile struct {
	metrics *Metrics
	path    string
	log     *logging.Logger
	failed  bool
}

// NewTextfile creates a textfile reporter
func NewTextfile(m *Metrics, path string, log *logging.Logger) *Textfile {
	if log == nil {
		log = logging.Discard()
	}
	return &Textfile{metrics: m, path: path, log: log}
}

// Report implements report.Reporter
func (t *Textfile) Report(s report.Snapshot) {
	t.metrics.Report(s)
	if err := WriteTextfile(t.metrics.Registry(), t.path); err != nil {
		// Log once per failure streak
		if !t.failed {
			t.log.Warn("metrics textfile export failed", logging.Fields{"path": t.path, "error": err.Error()})
		}
		t.failed = true
		return
	}
	t.failed = false
}
