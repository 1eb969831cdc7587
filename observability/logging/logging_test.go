package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupRenamesKeysAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("bidpoold", "test", Options{Output: &buf})
	defer closer.Close()

	logger.Info("round finalized", "round", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "round finalized", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "bidpoold", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 3, line["round"])
}

func TestSetupTeesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidpoold.log")
	var buf bytes.Buffer
	logger, closer := SetupWithOptions("bidpoold", "", Options{Output: &buf, File: path, Level: slog.LevelWarn})

	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, closer.Close())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "kept")
	require.NotContains(t, string(contents), "dropped")
	require.Equal(t, contents, buf.Bytes())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
