package runlog

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRunLog(t *testing.T) {
	rl := New("ingest")
	rl.Processed = 10
	rl.Succeeded = 8
	rl.Failed = 2
	rl.SkipReasons = map[string]int{"malformed json": 1}
	rl.SetSample(map[string]string{"chunk_id": "b-00000"})

	dir := t.TempDir()
	path, err := rl.Write(dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got RunLog
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, rl.RunID, got.RunID)
	assert.Equal(t, "ingest", got.Command)
	assert.Equal(t, 10, got.Processed)
	assert.Equal(t, 2, got.Failed)
	assert.Equal(t, 1, got.SkipReasons["malformed json"])
	assert.False(t, got.FinishedAt.IsZero())
	assert.False(t, got.FinishedAt.Before(got.StartedAt))

	var sample map[string]string
	require.NoError(t, json.Unmarshal(got.Sample, &sample))
	assert.Equal(t, "b-00000", sample["chunk_id"])
}
