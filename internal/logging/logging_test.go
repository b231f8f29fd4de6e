package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForServiceAddsAttribute(t *testing.T) {
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)
	SetLevel(slog.LevelInfo)
	t.Cleanup(Init)

	ForService("capture").Info("chunk pushed", "slot", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(structured.Bytes(), &entry))
	assert.Equal(t, "capture", entry["service"])
	assert.Equal(t, "INFO", entry["level"])
	assert.InDelta(t, 1, entry["slot"], 0)
}

func TestSetLevelFiltersAtRuntime(t *testing.T) {
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)
	t.Cleanup(func() {
		SetLevel(slog.LevelInfo)
		Init()
	})

	SetLevel(slog.LevelWarn)
	Structured().Info("hidden")
	assert.Zero(t, structured.Len())

	SetLevel(LevelTrace)
	Structured().Log(t.Context(), LevelTrace, "visible")
	assert.Contains(t, structured.String(), `"level":"TRACE"`)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestRotationLimits(t *testing.T) {
	t.Parallel()

	size, backups, age := rotationLimits(FileConfig{Rotation: RotationDaily})
	assert.Equal(t, []int{100, 30, 1}, []int{size, backups, age})

	size, backups, age = rotationLimits(FileConfig{Rotation: RotationSize, MaxSize: 10 * 1024 * 1024})
	assert.Equal(t, []int{10, 3, 28}, []int{size, backups, age})
}

func TestNewFileLogger(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "kapt.log")
	logger, closeFn, err := NewFileLogger(FileConfig{Path: path}, "kapture", slog.LevelDebug)
	require.NoError(t, err)

	logger.Debug("extracted", "segments", 2)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"kapture"`)

	_, _, err = NewFileLogger(FileConfig{}, "x", slog.LevelInfo)
	assert.Error(t, err)
}

func TestEnableFileOutputFollowsExistingLoggers(t *testing.T) {
	svc := ForService("scheduler")

	path := filepath.Join(t.TempDir(), "kapt.log")
	restore, err := EnableFileOutput(FileConfig{Path: path, Rotation: RotationSize, MaxSize: 1024 * 1024})
	require.NoError(t, err)

	svc.Info("session started", "session_id", "abc")
	require.NoError(t, restore())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id":"abc"`)
	assert.Contains(t, string(data), `"service":"scheduler"`)
}
