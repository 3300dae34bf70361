package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJsonlRepoAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	r, err := NewJsonlRepo(path)
	require.NoError(t, err)

	require.NoError(t, r.Append(map[string]any{"symbol": "BTCUSDT", "n": 1.0}))
	require.NoError(t, r.Append(map[string]any{"symbol": "ETHUSDT", "n": 2.0}))

	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "BTCUSDT", rows[0]["symbol"])
	assert.Contains(t, rows[0], "_write_time_utc")
}

func TestJsonlRepoSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	r, err := NewJsonlRepo(path)
	require.NoError(t, err)
	require.NoError(t, r.Append(map[string]any{"a": 1.0}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, r.Append(map[string]any{"a": 2.0}))

	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestJsonlRepoReadAllOnMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	r, err := NewJsonlRepo(path)
	require.NoError(t, err)
	rows, err := r.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecisionCycleRepoRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision_cycles.jsonl")
	repo, err := NewDecisionCycleRepo(path)
	require.NoError(t, err)
	require.NoError(t, repo.Append(map[string]any{"symbol": "BTCUSDT", "outcome": "SKIP"}))
	rows, err := repo.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SKIP", rows[0]["outcome"])
}

func TestExecutionEventRepoIter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executions.jsonl")
	repo, err := NewExecutionEventRepo(path)
	require.NoError(t, err)
	require.NoError(t, repo.Append(map[string]any{"order_id": "o1"}))
	require.NoError(t, repo.Append(map[string]any{"order_id": "o2"}))

	var seen []string
	err = repo.Iter(func(row map[string]any) bool {
		seen = append(seen, row["order_id"].(string))
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, seen)
}
