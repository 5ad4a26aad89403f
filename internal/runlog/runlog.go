package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"book-rag/internal/helper"
)

// RunLog is the per-invocation observability record. It is written for
// operators and never read back by the pipeline itself.
type RunLog struct {
	RunID       string          `json:"run_id"`
	Command     string          `json:"command"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Processed   int             `json:"processed"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	SkipReasons map[string]int  `json:"skip_reasons,omitempty"`
	Sample      json.RawMessage `json:"sample,omitempty"`
}

// New starts a run log for one command invocation.
func New(command string) *RunLog {
	return &RunLog{
		RunID:     uuid.NewString(),
		Command:   command,
		StartedAt: time.Now().UTC(),
	}
}

// SetSample stores one representative record for the log; marshal failures
// are ignored, the sample is best effort.
func (r *RunLog) SetSample(v interface{}) {
	if b, err := json.Marshal(v); err == nil {
		r.Sample = b
	}
}

// Write stamps the finish time and writes the log as one JSON file in dir.
func (r *RunLog) Write(dir string) (string, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return "", err
	}
	r.FinishedAt = time.Now().UTC()

	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}

	name := fmt.Sprintf("run-%s-%s.json", r.StartedAt.Format("20060102-150405"), r.RunID[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", fmt.Errorf("write run log: %w", err)
	}
	return path, nil
}
