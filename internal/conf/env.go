// env.go - environment variable bindings and validation for kapt
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns the explicitly validated environment variables.
// Every other key is still reachable through KAPT_<SECTION>_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "KAPT_DEBUG", validateEnvBool},
		{"capture.ffmpegpath", "KAPT_FFMPEG", validateEnvPath},
		{"capture.audiosource", "KAPT_AUDIO_SOURCE", nil},
		{"capture.chunklength", "KAPT_CHUNK_LENGTH", validateEnvPositiveInt},
		{"capture.maxcached", "KAPT_MAX_CACHED", validateEnvPositiveInt},
		{"capture.display", "DISPLAY", nil},
		{"output.folder", "KAPT_OUTPUT_FOLDER", nil},
		{"server.listen", "KAPT_LISTEN", nil},
		{"telemetry.sentry.dsn", "KAPT_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false: %w", err)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be an integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be greater than 0, got %d", n)
	}
	return nil
}

func validateEnvPath(value string) error {
	cleanedPath := filepath.Clean(value)

	if !filepath.IsAbs(cleanedPath) {
		return fmt.Errorf("path must be absolute, got relative path: %s", cleanedPath)
	}

	for part := range strings.SplitSeq(cleanedPath, string(os.PathSeparator)) {
		if part == ".." {
			return fmt.Errorf("path traversal detected in cleaned path: %s", cleanedPath)
		}
	}

	if _, err := os.Stat(cleanedPath); os.IsNotExist(err) {
		return fmt.Errorf("warning: file does not exist: %s", cleanedPath)
	}

	return nil
}
