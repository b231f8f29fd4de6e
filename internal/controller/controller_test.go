package controller

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/kapt/internal/audio"
	"github.com/tphakala/kapt/internal/conf"
	"github.com/tphakala/kapt/internal/errors"
	"github.com/tphakala/kapt/internal/ffmpeg"
)

type stubProcess struct {
	id       string
	marker   string
	quit     chan struct{}
	quitOnce sync.Once
}

func (p *stubProcess) ID() string { return p.id }

func (p *stubProcess) Lines() iter.Seq[string] {
	return func(yield func(string) bool) {
		<-p.quit
		yield(p.marker)
	}
}

func (p *stubProcess) Quit() error {
	p.quitOnce.Do(func() { close(p.quit) })
	return nil
}

func (p *stubProcess) Wait() error {
	<-p.quit
	return nil
}

type stubSpawner struct {
	mu    sync.Mutex
	args  [][]string
	clock func() time.Time
}

func (s *stubSpawner) Spawn(_ context.Context, cfg *ffmpeg.ProcessConfig) (ffmpeg.Process, error) {
	s.mu.Lock()
	s.args = append(s.args, cfg.Args)
	s.mu.Unlock()

	if err := os.WriteFile(cfg.OutputPath, nil, 0o600); err != nil {
		return nil, err
	}
	ms := s.clock().UnixMilli()
	return &stubProcess{
		id:     cfg.ID,
		marker: fmt.Sprintf("  Duration: N/A, start: %d.%03d000, bitrate: N/A", ms/1000, ms%1000),
		quit:   make(chan struct{}),
	}, nil
}

type stubTranscoder struct {
	mu       sync.Mutex
	trims    int
	failTrim bool
}

func (s *stubTranscoder) Trim(_ context.Context, r ffmpeg.TrimRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trims++
	if s.failTrim {
		return errors.NewStd("trim failed")
	}
	return os.WriteFile(r.OutputPath, nil, 0o600)
}

func (s *stubTranscoder) Concat(_ context.Context, _ []string, output string) error {
	return os.WriteFile(output, []byte("clip"), 0o600)
}

type stubSources struct{ sources []audio.Source }

func (s stubSources) Sources(context.Context) ([]audio.Source, error) { return s.sources, nil }

// testClock advances by step on every reading so chunks have a length.
type testClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Capture = conf.CaptureSettings{
		FfmpegPath:  "ffmpeg",
		Display:     ":0.0",
		VideoSize:   "1280x720",
		Framerate:   30,
		AudioSource: "default",
		ChunkLength: 15,
		MaxCached:   120,
		TempDir:     t.TempDir(),
	}
	s.Output = conf.OutputSettings{
		Folder:        t.TempDir(),
		Template:      "kapture-20060102-150405",
		Extension:     "mp4",
		DefaultLength: 30,
	}
	s.Server = conf.ServerSettings{Listen: "127.0.0.1:0", KaptureRate: 1, KaptureBurst: 1}
	return s
}

func newTestController(t *testing.T, tc *stubTranscoder) (*Controller, *stubSpawner) {
	t.Helper()
	clock := &testClock{t: time.UnixMilli(1_700_000_000_000), step: 500 * time.Millisecond}
	spawner := &stubSpawner{clock: clock.Now}
	c, err := New(t.Context(), Options{
		Settings:   testSettings(t),
		Spawner:    spawner,
		Transcoder: tc,
		Sources: stubSources{sources: []audio.Source{
			{Index: 0, Name: "default", Description: "Default"},
			{Index: 1, Name: "mic", Description: "USB Microphone"},
		}},
		Now: clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, spawner
}

func TestNewRemovesStaleFiles(t *testing.T) {
	t.Parallel()

	s := testSettings(t)
	stale := filepath.Join(s.Capture.TempDir, "0b1c-video.mp4")
	keep := filepath.Join(s.Capture.TempDir, "notes.txt")
	require.NoError(t, os.WriteFile(stale, nil, 0o600))
	require.NoError(t, os.WriteFile(keep, nil, 0o600))

	_, err := New(t.Context(), Options{Settings: s, Spawner: &stubSpawner{clock: time.Now}, Transcoder: &stubTranscoder{}})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, keep)
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()

	_, err := New(t.Context(), Options{})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestActivateDeactivate(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &stubTranscoder{})

	started, err := c.Activate(t.Context())
	require.NoError(t, err)
	assert.True(t, started)

	st := c.Status()
	assert.True(t, st.Active)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, 1, st.RecordingSlots)

	stopped, err := c.Deactivate(t.Context())
	require.NoError(t, err)
	assert.True(t, stopped)

	st = c.Status()
	assert.False(t, st.Active)
	assert.Zero(t, st.BufferedChunks)
}

func TestKaptureClearsBufferAndResumes(t *testing.T) {
	t.Parallel()

	tc := &stubTranscoder{}
	c, _ := newTestController(t, tc)

	_, err := c.Activate(t.Context())
	require.NoError(t, err)
	first := c.Status().SessionID

	res, err := c.Kapture(t.Context(), 0, 10*time.Second)
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
	assert.True(t, strings.HasPrefix(filepath.Base(res.Path), "kapture-"))
	assert.Equal(t, ".mp4", filepath.Ext(res.Path))
	assert.Equal(t, 1, tc.trims)

	st := c.Status()
	assert.True(t, st.Active)
	assert.NotEqual(t, first, st.SessionID, "capture resumes under a new session")
	assert.Zero(t, st.BufferedChunks)
}

func TestKaptureFailureKeepsBuffer(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &stubTranscoder{failTrim: true})

	_, err := c.Activate(t.Context())
	require.NoError(t, err)

	_, err = c.Kapture(t.Context(), 0, 10*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExtractionFailed)

	st := c.Status()
	assert.True(t, st.Active, "capture resumes after a failed kapture")
	assert.Equal(t, 1, st.BufferedChunks)
}

func TestKaptureWithoutCaptureIsOutOfRange(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &stubTranscoder{})

	_, err := c.Kapture(t.Context(), 0, 0)
	assert.ErrorIs(t, err, errors.ErrOutOfRange)
	assert.False(t, c.Status().Active)

	_, err = c.Kapture(t.Context(), 0, -time.Second)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSetAudioSource(t *testing.T) {
	t.Parallel()

	c, spawner := newTestController(t, &stubTranscoder{})

	err := c.SetAudioSource(t.Context(), "nope")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	require.NoError(t, c.SetAudioSource(t.Context(), "mic"))
	assert.Equal(t, "mic", c.Settings().Capture.AudioSource)
	assert.Equal(t, "mic", c.Status().AudioSource)

	_, err = c.Activate(t.Context())
	require.NoError(t, err)

	spawner.mu.Lock()
	defer spawner.mu.Unlock()
	require.Len(t, spawner.args, 2)
	assert.Contains(t, spawner.args[1], "mic")
}

func TestSetMaxCached(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &stubTranscoder{})

	require.NoError(t, c.SetMaxCached(5*time.Minute))
	assert.Equal(t, 300, c.Status().CacheBudgetSec)
	assert.Equal(t, 300, c.Settings().Capture.MaxCached)

	err := c.SetMaxCached(10 * time.Second)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "budget below two chunk lengths")
	assert.Equal(t, 300, c.Status().CacheBudgetSec)

	err = c.SetMaxCached(1500 * time.Millisecond)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSetOutputFolder(t *testing.T) {
	t.Parallel()

	c, _ := newTestController(t, &stubTranscoder{})
	folder := t.TempDir()

	require.NoError(t, c.SetOutputFolder(folder))
	assert.Equal(t, folder, c.Status().OutputFolder)

	err := c.SetOutputFolder(" ")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSettingsArePersisted(t *testing.T) {
	t.Parallel()

	var persisted []*conf.Settings
	s := testSettings(t)
	c, err := New(t.Context(), Options{
		Settings:   s,
		Spawner:    &stubSpawner{clock: time.Now},
		Transcoder: &stubTranscoder{},
		Persist: func(fn func(*conf.Settings)) (*conf.Settings, error) {
			updated := *s
			fn(&updated)
			persisted = append(persisted, &updated)
			return &updated, nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, c.SetOutputFolder("/srv/clips"))
	require.Len(t, persisted, 1)
	assert.Equal(t, "/srv/clips", persisted[0].Output.Folder)
}
