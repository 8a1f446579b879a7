package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojokv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
storage:
  data_dir: /var/lib/gojokv
  backend: btree
wal:
  sync_every: 8
checkpoint:
  interval: 30s
  poll_interval: 2ms
  bytes_per_second: 1048576
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "console", cfg.Logger.Format)
	require.Equal(t, "/var/lib/gojokv", cfg.Storage.DataDir)
	require.Equal(t, "btree", cfg.Storage.Backend)
	require.Equal(t, Default().Storage.WALFile, cfg.Storage.WALFile)
	require.Equal(t, 8, cfg.WAL.SyncEvery)
	require.Equal(t, 30*time.Second, cfg.Checkpoint.Interval)
	require.Equal(t, 2*time.Millisecond, cfg.Checkpoint.PollInterval)
	require.Equal(t, int64(1<<20), cfg.Checkpoint.BytesPerSecond)
	require.Equal(t, Default().Checkpoint.BatchSize, cfg.Checkpoint.BatchSize)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: lsm
  checkpoint_file: wal.log
wal:
  sync_every: -1
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.backend")
	require.Contains(t, err.Error(), "must differ")
	require.Contains(t, err.Error(), "wal.sync_every")
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "checkpoint:\n  interval: soon\n"))
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMarshal_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Interval = 90 * time.Second
	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := writeConfig(t, string(data))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
