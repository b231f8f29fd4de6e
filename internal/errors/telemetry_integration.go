// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with path scrubbing
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		title := generateErrorTitle(ee)

		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  title,
			Value: message,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a grouping title such as "Kapture Extraction Error"
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, titleCase(component))
	}
	if ee.Category != "" && ee.Category != CategoryGeneric {
		parts = append(parts, formatCategoryForTitle(ee.Category))
	}
	if op, ok := ee.GetContext()["operation"].(string); ok && op != "" {
		parts = append(parts, formatOperationForTitle(op))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ") + " Error"
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryProcessSpawn:
		return "Process Spawn"
	case CategoryMissingStartTime:
		return "Missing Start Time"
	case CategoryOutOfRange:
		return "Out Of Range"
	case CategoryFileIO:
		return "File I/O"
	case CategoryHTTP:
		return "HTTP"
	default:
		return formatOperationForTitle(string(category))
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.FieldsFunc(operation, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		words[i] = titleCase(w)
	}
	return strings.Join(words, " ")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// getErrorLevel maps categories to Sentry severities
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryProcessSpawn, CategoryExtraction, CategoryDiskSpace, CategorySystem:
		return sentry.LevelError
	case CategoryState, CategoryCommandExecution, CategoryMissingStartTime:
		return sentry.LevelWarning
	case CategoryValidation, CategoryOutOfRange, CategoryNotFound, CategoryLimit, CategoryCancellation:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	telemetryReporter TelemetryReporter
	telemetryMu       sync.RWMutex
)

// SetTelemetryReporter installs the reporter used by Build
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	telemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the installed reporter, if any
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return telemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	reporter := GetTelemetryReporter()
	if reporter == nil || !reporter.IsEnabled() {
		return
	}
	reporter.ReportError(ee)
}

// InitSentry initializes the Sentry SDK and installs a SentryReporter.
// An empty DSN disables reporting.
func InitSentry(dsn, release string, debug bool) error {
	if dsn == "" {
		SetTelemetryReporter(nil)
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          release,
		Debug:            debug,
		AttachStacktrace: true,
	}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	SetTelemetryReporter(NewSentryReporter(true))
	return nil
}

// FlushTelemetry waits for buffered events to be sent
func FlushTelemetry(timeout time.Duration) {
	if GetTelemetryReporter() == nil {
		return
	}
	sentry.Flush(timeout)
}

// PrivacyScrubber rewrites messages before they leave the process
type PrivacyScrubber func(string) string

var privacyScrubber PrivacyScrubber

// SetPrivacyScrubber overrides the default scrubber
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	privacyScrubber = scrubber
}

func scrubMessageForPrivacy(message string) string {
	telemetryMu.RLock()
	scrubber := privacyScrubber
	telemetryMu.RUnlock()
	if scrubber != nil {
		return scrubber(message)
	}
	return basicPathScrub(message)
}

var (
	homePathPattern = regexp.MustCompile(`/home/[^/\s]+`)
	urlQueryPattern = regexp.MustCompile(`(https?://[^\s?]+)\?[^\s]*`)
)

// basicPathScrub hides user names in home directories and URL query strings
func basicPathScrub(message string) string {
	message = homePathPattern.ReplaceAllString(message, "/home/[user]")
	return urlQueryPattern.ReplaceAllString(message, "$1?[redacted]")
}
