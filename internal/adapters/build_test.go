package adapters

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/config"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterReplayRowsKeepsOnlyListedAddresses(t *testing.T) {
	rows := []ReplayRow{
		{Address: "kept", TimestampUTC: time.Now()},
		{Address: "dropped", TimestampUTC: time.Now()},
		{Address: "kept", TimestampUTC: time.Now()},
	}

	filtered := filterReplayRows(rows, []string{"kept"})
	assert.Len(t, filtered, 2)
	for _, r := range filtered {
		assert.Equal(t, "kept", r.Address)
	}
}

func TestFilterReplayRowsEmptyFilterKeepsAll(t *testing.T) {
	rows := []ReplayRow{{Address: "a"}, {Address: "b"}}
	assert.Equal(t, rows, filterReplayRows(rows, nil))
}

func TestBuildReplayAppliesPointFilters(t *testing.T) {
	dir := t.TempDir()
	csv := "2026-01-01T00:00:00Z,1\n2026-01-01T00:00:10Z,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.csv"), []byte(csv), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dropped.csv"), []byte(csv), 0o600))

	cfg := config.AdapterConfig{
		Name:         "replay-1",
		Kind:         "replay",
		PointFilters: []string{"kept"},
		Connection:   []byte(`{"dir":"` + dir + `"}`),
	}

	var addrs []string
	name, run, err := Build(cfg, uuid.New(), func(b model.RawSampleBatch) {
		for _, p := range b.Points {
			addrs = append(addrs, p.Address)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "replay-1", name)
	require.NotNil(t, run)

	// Both files' first rows share the replay origin and are emitted at
	// once; the second rows are 10s later, past this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = run(ctx)
	assert.Equal(t, []string{"kept"}, addrs)
}
