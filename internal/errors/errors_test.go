package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuildReportsWhenReporterActive(t *testing.T) {
	rep := &recordingReporter{}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := Newf("trim failed for %s", "chunk-1.mp4").
		Component("kapture").
		Category(CategoryExtraction).
		Context("operation", "trim_segment").
		Build()

	require.Len(t, rep.reported, 1)
	assert.Same(t, ee, rep.reported[0])
	assert.Equal(t, "kapture", ee.GetComponent())
}

func TestCategorySentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category ErrorCategory
		sentinel error
	}{
		{CategoryProcessSpawn, ErrProcessSpawn},
		{CategoryMissingStartTime, ErrMissingStartTime},
		{CategoryOutOfRange, ErrOutOfRange},
		{CategoryExtraction, ErrExtractionFailed},
		{CategoryState, ErrStateAccess},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()
			err := error(New(fmt.Errorf("boom")).Category(tt.category).Build())
			wrapped := fmt.Errorf("outer: %w", err)

			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.True(t, IsCategory(wrapped, tt.category))
			assert.Equal(t, tt.category, CategoryOf(wrapped))
		})
	}
}

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CategoryOutOfRange, New(fmt.Errorf("wrap: %w", ErrOutOfRange)).Build().Category)
	assert.Equal(t, CategoryTimeout, New(context.DeadlineExceeded).Build().Category)
	assert.Equal(t, CategoryCancellation, New(context.Canceled).Build().Category)
	assert.Equal(t, CategoryFileIO, New(fmt.Errorf("open x: no such file or directory")).Build().Category)
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("x")).
		Component("capture").
		Category(CategoryProcessSpawn).
		Context("operation", "spawn_video").
		Build()

	assert.Equal(t, "Capture Process Spawn Spawn Video Error", generateErrorTitle(ee))
}

func TestBasicPathScrub(t *testing.T) {
	t.Parallel()

	got := basicPathScrub("open /home/alice/Videos/kapt/chunk.mp4 via http://host/x?token=abc")
	assert.NotContains(t, got, "alice")
	assert.NotContains(t, got, "abc")
	assert.Contains(t, got, "/home/[user]/Videos")
}

func TestPriorityNormalization(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityHigh, New(fmt.Errorf("x")).Priority(PriorityHigh).Build().GetPriority())
	assert.Equal(t, PriorityMedium, New(fmt.Errorf("x")).Priority("urgent").Build().GetPriority())
}
