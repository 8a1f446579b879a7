package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gojokv.log")
	log, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "kept", entry["msg"])
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, DefaultService, entry["service"])
}

func TestNew_CustomService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.log")
	log, err := New(Config{Level: "bogus", OutputFile: path, Service: "kv-shell"})
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"service":"kv-shell"`)
}

func TestNew_BadOutputFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
