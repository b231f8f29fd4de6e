// config.go: settings struct for kapt and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/kapt/internal/logging"
)

//go:embed config.yaml
var configFiles embed.FS

var logger *slog.Logger

func init() {
	logger = logging.ForService("conf")
	if logger == nil {
		logger = slog.Default().With("service", "conf")
	}
}

// CaptureSettings controls the background screen and audio recorders.
type CaptureSettings struct {
	FfmpegPath  string // path to ffmpeg, resolved at load time when empty
	Display     string // X11 display passed to x11grab, e.g. ":0.0"
	VideoSize   string // capture geometry, e.g. "1920x1080"
	Framerate   int    // capture frame rate
	VideoCodec  string // encoder for chunk video files
	Preset      string // encoder preset
	AudioSource string // PulseAudio source name
	ChunkLength int    // seconds between slot toggles, each chunk records twice this
	MaxCached   int    // seconds of history kept in the rolling buffer
	TempDir     string // directory for chunk and segment files, empty for os.TempDir()
	MinFreeMB   uint64 // refuse to start a chunk below this much free space in TempDir
}

// OutputSettings controls where finished kaptures go.
type OutputSettings struct {
	Folder        string // destination folder for kaptures
	Template      string // Go time layout used for the file name, without extension
	Extension     string // container extension, e.g. "mp4"
	DefaultLength int    // seconds, used when a kapture request omits the duration
}

// ServerSettings controls the HTTP control API.
type ServerSettings struct {
	Listen       string  // listen address, e.g. "127.0.0.1:7575"
	KaptureRate  float64 // kapture requests per second
	KaptureBurst int     // kapture token bucket size
}

// LogSettings controls file logging.
type LogSettings struct {
	Enabled  bool   // write JSON logs to Path
	Path     string // log file path
	Level    string // trace, debug, info, warn, error
	Rotation string // daily, weekly or size
	MaxSize  int64  // bytes, used with size rotation
}

// TelemetrySettings controls error reporting and metrics.
type TelemetrySettings struct {
	Sentry struct {
		Enabled bool
		DSN     string
	}
	Prometheus struct {
		Enabled bool
		Path    string
	}
}

// Settings is the root of the kapt configuration.
type Settings struct {
	Debug     bool
	Capture   CaptureSettings
	Output    OutputSettings
	Server    ServerSettings
	Log       LogSettings
	Telemetry TelemetrySettings
}

// ChunkInterval returns the scheduler tick interval.
func (s *Settings) ChunkInterval() time.Duration {
	return time.Duration(s.Capture.ChunkLength) * time.Second
}

// CacheBudget returns how long completed chunks are retained.
func (s *Settings) CacheBudget() time.Duration {
	return time.Duration(s.Capture.MaxCached) * time.Second
}

// TempDir returns the configured working directory or the OS default.
func (s *Settings) TempDir() string {
	if s.Capture.TempDir != "" {
		return s.Capture.TempDir
	}
	return filepath.Join(os.TempDir(), "kapt")
}

// LogFile returns the rotation settings for the file logger.
func (s *Settings) LogFile() logging.FileConfig {
	return logging.FileConfig{
		Path:     s.Log.Path,
		Rotation: logging.RotationPolicy(s.Log.Rotation),
		MaxSize:  s.Log.MaxSize,
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment into a new Settings
// instance. An empty configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// unmarshalSettings decodes the current viper state and validates it.
func unmarshalSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if settings.Capture.FfmpegPath == "" || settings.Capture.FfmpegPath == GetFfmpegBinaryName() {
		if path, err := ValidateToolPath(settings.Capture.FfmpegPath, GetFfmpegBinaryName()); err == nil {
			settings.Capture.FfmpegPath = path
		} else {
			logger.Warn("ffmpeg not found in PATH", "error", err)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	viper.SetEnvPrefix("KAPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		logger.Warn("environment configuration issues", "error", err)
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to dir and reads it back.
func createDefaultConfig(dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	logger.Info("created default config file", "path", configPath)
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Update applies fn to a copy of the current settings, validates the result,
// persists it to the active config file and swaps it in.
func Update(fn func(*Settings)) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if settingsInstance == nil {
		return nil, fmt.Errorf("settings not loaded")
	}

	updated := *settingsInstance
	fn(&updated)

	if err := ValidateSettings(&updated); err != nil {
		return nil, err
	}

	if configPath := viper.ConfigFileUsed(); configPath != "" {
		if err := SaveYAMLConfig(configPath, &updated); err != nil {
			return nil, fmt.Errorf("error saving config: %w", err)
		}
	}

	settingsInstance = &updated
	return settingsInstance, nil
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// rename fails across devices
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// OutputFolder returns the expanded kapture destination folder.
func (s *Settings) OutputFolder() string {
	return ExpandPath(s.Output.Folder)
}
