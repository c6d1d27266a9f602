package drift

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHistoryStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileHistoryStore(dir, zerolog.Nop())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	latest, err := store.Latest(ctx, "db-01")
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, store.Append(ctx, "db-01", engine.HistoryEntry{Timestamp: base.Add(2 * time.Hour), DriftPercentage: 20}))
	require.NoError(t, store.Append(ctx, "db-01", engine.HistoryEntry{Timestamp: base, DriftPercentage: 10}))
	require.NoError(t, store.Append(ctx, "db-01", engine.HistoryEntry{Timestamp: base.Add(time.Hour), DriftPercentage: 15}))

	entries, err := store.List(ctx, "db-01")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []float64{10, 15, 20}, []float64{
		entries[0].DriftPercentage, entries[1].DriftPercentage, entries[2].DriftPercentage,
	})

	latest, err = store.Latest(ctx, "db-01")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 20.0, latest.DriftPercentage)

	removed, err := store.Prune(ctx, "db-01", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err = store.List(ctx, "db-01")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 20.0, entries[0].DriftPercentage)

	assert.FileExists(t, filepath.Join(dir, "db-01_drift_history.json"))
}

func TestFileHistoryStore_PathSanitizesTarget(t *testing.T) {
	store := NewFileHistoryStore("/var/lib/policyforge", zerolog.Nop())
	assert.Equal(t, "/var/lib/policyforge/rack1_web-01_drift_history.json", store.Path("rack1/web-01"))
}

func TestFileHistoryStore_CancelledContext(t *testing.T) {
	store := NewFileHistoryStore(t.TempDir(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.List(ctx, "web-01")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Append(ctx, "web-01", engine.HistoryEntry{}), context.Canceled)
}

func TestLoadBaseline(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "baseline.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
parameters:
  ssh_port: 22
  sshd:
    permit_root_login: "no"
parameter_metadata:
  ssh_port:
    severity: high
    category: security
`), 0o644))

	b, err := LoadBaseline(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 22, b.Parameters["ssh_port"])
	assert.Equal(t, map[string]any{"permit_root_login": "no"}, b.Parameters["sshd"])
	assert.Equal(t, ParameterMeta{Severity: engine.SeverityHigh, Category: engine.CategorySecurity}, b.Meta("ssh_port"))
	assert.Equal(t, ParameterMeta{Severity: engine.SeverityMedium, Category: engine.CategoryGeneral}, b.Meta("sshd"))

	jsonPath := filepath.Join(dir, "baseline.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"parameters": {"ssh_port": 22}}`), 0o644))
	b, err = LoadBaseline(jsonPath)
	require.NoError(t, err)
	assert.True(t, engine.ValuesEqual(22, b.Parameters["ssh_port"]))

	_, err = LoadBaseline(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, engine.IsStructural(err))
	assert.Contains(t, err.Error(), "Baseline file not found")

	badPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("parameters: [unclosed"), 0o644))
	_, err = LoadBaseline(badPath)
	assert.True(t, engine.IsStructural(err))
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()

	flat := filepath.Join(dir, "flat.yaml")
	require.NoError(t, os.WriteFile(flat, []byte("a: 1\nb: two\n"), 0o644))
	state, err := LoadState(flat)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, state)

	wrapped := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(wrapped, []byte(`{"parameters": {"a": 1}}`), 0o644))
	state, err = LoadState(wrapped)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, state)

	_, err = LoadState(filepath.Join(dir, "state.txt"))
	assert.Error(t, err)
}
