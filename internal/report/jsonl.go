package report

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONLines writes one JSON document per snapshot, for non-interactive runs
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a JSON-lines reporter on w
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// Report encodes s; encoding errors are dropped with the snapshot
func (j *JSONLines) Report(s Snapshot) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(s)
}
