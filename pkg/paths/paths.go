package paths

import (
	"os"
	"path/filepath"
	"strconv"
)

// GetConfigDir returns the user's config directory for keytrail.
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory. This is a best-effort fallback and
// not intended to be a security boundary.
func GetConfigDir() string {
	if dir := os.Getenv("KEYTRAIL_CONFIG_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".keytrail-config"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".config", "keytrail"))
}

// GetDataDir returns the user's data directory for keytrail (journal, logs).
//
// If the home directory cannot be determined, it falls back to a directory
// under the system temporary directory.
func GetDataDir() string {
	if dir := os.Getenv("KEYTRAIL_DATA_DIR"); dir != "" {
		return filepath.Clean(dir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(filepath.Join(os.TempDir(), ".keytrail"))
	}
	return filepath.Clean(filepath.Join(homeDir, ".keytrail"))
}

// GetStateDir returns the directory holding per-install state such as the
// device identifier. It lives next to the config so that it survives cache
// cleanups of the data directory.
func GetStateDir() string {
	return GetConfigDir()
}

// ProcessDir returns a directory that is private to the current process.
// It is the last resort when neither the config nor the data directory can
// be created.
func ProcessDir() string {
	return filepath.Join(os.TempDir(), "keytrail-"+strconv.Itoa(os.Getpid()))
}
