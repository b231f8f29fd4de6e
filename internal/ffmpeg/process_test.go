package ffmpeg

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/kapt/internal/errors"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecSpawnerQuitAndDrain(t *testing.T) {
	t.Parallel()
	sh := requireShell(t)

	p, err := ExecSpawner{}.Spawn(t.Context(), &ProcessConfig{
		ID:         "video-0",
		FFmpegPath: sh,
		Args:       []string{"-c", `echo "Input #0, x11grab" >&2; echo "  Duration: N/A, start: 1700000000.500000, bitrate: N/A" >&2; read -r x; echo "exiting on $x" >&2`},
	})
	require.NoError(t, err)
	assert.Equal(t, "video-0", p.ID())

	require.NoError(t, p.Quit())
	require.NoError(t, p.Quit(), "second quit is a no-op")

	start, ok := FindStartTime(p.Lines())
	require.True(t, ok)
	assert.Equal(t, int64(1700000000500), start)

	var lines []string
	for l := range p.Lines() {
		lines = append(lines, l)
	}
	assert.Equal(t, "exiting on q", lines[len(lines)-1])
	assert.NoError(t, p.Wait())
}

func TestExecSpawnerMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := ExecSpawner{}.Spawn(t.Context(), &ProcessConfig{
		ID:         "audio-1",
		FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrProcessSpawn)
}

func TestTranscoderFailureCarriesStderr(t *testing.T) {
	t.Parallel()
	sh := requireShell(t)

	// sh rejects ffmpeg's flags and exits non-zero with a diagnostic
	tr := NewTranscoder(sh, 0)
	out := filepath.Join(t.TempDir(), "seg.mp4")
	err := tr.Trim(t.Context(), TrimRequest{VideoPath: "v", AudioPath: "a", OutputPath: out})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	assert.NotEmpty(t, ee.GetContext()["stderr"])
}

func TestTranscoderMissingBinary(t *testing.T) {
	t.Parallel()

	tr := NewTranscoder(filepath.Join(t.TempDir(), "missing"), 0)
	err := tr.Concat(t.Context(), []string{"a.mp4"}, filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, errors.ErrProcessSpawn)
}
