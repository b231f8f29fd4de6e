// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

var videoSizePattern = regexp.MustCompile(`^\d+x\d+$`)

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateCaptureSettings(&settings.Capture)...)
	ve.Errors = append(ve.Errors, validateOutputSettings(&settings.Output)...)
	ve.Errors = append(ve.Errors, validateServerSettings(&settings.Server)...)
	ve.Errors = append(ve.Errors, validateLogSettings(&settings.Log)...)

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCaptureSettings(settings *CaptureSettings) []string {
	var errs []string

	if settings.ChunkLength <= 0 {
		errs = append(errs, "capture chunk length must be greater than 0 seconds")
	}
	// a kapture needs at least one full chunk pair
	if settings.MaxCached < 2*settings.ChunkLength {
		errs = append(errs, fmt.Sprintf("capture max cached (%ds) must be at least twice the chunk length (%ds)",
			settings.MaxCached, settings.ChunkLength))
	}
	if settings.Framerate <= 0 || settings.Framerate > 240 {
		errs = append(errs, "capture framerate must be between 1 and 240")
	}
	if !videoSizePattern.MatchString(settings.VideoSize) {
		errs = append(errs, fmt.Sprintf("capture video size %q must be WIDTHxHEIGHT", settings.VideoSize))
	}
	if strings.TrimSpace(settings.AudioSource) == "" {
		errs = append(errs, "capture audio source must not be empty")
	}
	if strings.TrimSpace(settings.Display) == "" {
		errs = append(errs, "capture display must not be empty")
	}

	return errs
}

func validateOutputSettings(settings *OutputSettings) []string {
	var errs []string

	if strings.TrimSpace(settings.Folder) == "" {
		errs = append(errs, "output folder must not be empty")
	}
	if settings.Template == "" || time.Now().Format(settings.Template) == settings.Template {
		errs = append(errs, "output template must contain a time layout")
	}
	if strings.ContainsAny(settings.Template, `/\`) {
		errs = append(errs, "output template must not contain path separators")
	}
	if settings.Extension == "" {
		errs = append(errs, "output extension must not be empty")
	}
	if settings.DefaultLength <= 0 {
		errs = append(errs, "output default length must be greater than 0 seconds")
	}

	return errs
}

func validateServerSettings(settings *ServerSettings) []string {
	var errs []string

	if _, port, err := net.SplitHostPort(settings.Listen); err != nil || port == "" {
		errs = append(errs, fmt.Sprintf("server listen address %q must be host:port", settings.Listen))
	}
	if settings.KaptureRate <= 0 {
		errs = append(errs, "server kapture rate must be greater than 0")
	}
	if settings.KaptureBurst < 1 {
		errs = append(errs, "server kapture burst must be at least 1")
	}

	return errs
}

func validateLogSettings(settings *LogSettings) []string {
	var errs []string

	if settings.Enabled && settings.Path == "" {
		errs = append(errs, "log path must be set when file logging is enabled")
	}
	switch settings.Rotation {
	case "", "daily", "weekly", "size":
	default:
		errs = append(errs, fmt.Sprintf("log rotation %q must be daily, weekly or size", settings.Rotation))
	}

	return errs
}
