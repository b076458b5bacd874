package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global configuration directory (~/.ftwbench)
	ConfigDir string

	// DatabasePath is the SQLite database holding the catalog and captured artifacts
	DatabasePath string

	// PacketDir is where packet files for wb are written
	PacketDir string

	// SettingsFile is the optional settings file
	SettingsFile string
)

// Initialize sets up the configuration directories
// It creates ~/.ftwbench/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".ftwbench"))
}

// InitializeAt sets up the configuration directories under dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	DatabasePath = filepath.Join(ConfigDir, "ftwbench.db")
	PacketDir = filepath.Join(ConfigDir, "packets")
	SettingsFile = filepath.Join(ConfigDir, "config.yaml")

	dirs := []string{ConfigDir, PacketDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DefaultPacketFile returns the packet file path used when none is given
func DefaultPacketFile() string {
	return filepath.Join(PacketDir, "ftwbench.pkt")
}

// ExpandPath expands a leading ~ and makes the path absolute
func ExpandPath(path string) (string, error) {
	if path == "" || path == ":memory:" {
		return path, nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}
