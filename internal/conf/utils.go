// conf/utils.go various util functions for configuration package
package conf

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tphakala/kapt/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// If one of them already holds a config file, only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configPaths = append(configPaths, filepath.Join(xdg, "kapt"))
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}
	configPaths = append(configPaths, filepath.Join(homeDir, ".config", "kapt"), ".")

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ValidateToolPath checks if a tool is available, either at an explicit path or in the system PATH.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if info, err := os.Stat(configuredPath); err == nil && !info.IsDir() {
			return configuredPath, nil
		}
		logger.Warn("Configured tool path invalid or not found, checking system PATH",
			"configured_path", configuredPath,
			"tool", toolName)
	}

	if found, err := exec.LookPath(toolName); err == nil {
		return found, nil
	}

	if configuredPath != "" {
		return "", fmt.Errorf("tool '%s' not found at configured path '%s' or in system PATH", toolName, configuredPath)
	}
	return "", fmt.Errorf("tool '%s' not found in system PATH and no path configured", toolName)
}

// moveFile moves a file from src to dst, working across devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}

	return nil
}
