package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zizhongfeiyang/MaiM-Connect/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

// GetConfigPath returns the default config location.
func GetConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".maimconn", "config.json")
}

// LoadConfig loads the config from the given path, or the default location
// when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = GetConfigPath()
	}
	return config.Load(path)
}

// FormatVersion returns the version string with optional git commit.
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info.
func FormatBuildInfo() (string, string) {
	return buildTime, runtime.Version()
}

// GetVersion returns the version string.
func GetVersion() string {
	return version
}
