// Package deviceid persists the random identifier that tags every report
// sent from this install.
package deviceid

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/docker/keytrail/pkg/paths"
)

// FileName is the name of the file holding the identifier.
const FileName = "device-id"

// Store loads and creates the device identifier under Dir.
//
// Concurrent first use from several processes is last-writer-wins: the value
// is a tag, not a coordination primitive.
type Store struct {
	// Dir defaults to paths.GetStateDir().
	Dir string
}

// Path returns the location of the identifier file.
func (s Store) Path() string {
	dir := s.Dir
	if dir == "" {
		dir = paths.GetStateDir()
	}
	return filepath.Join(dir, FileName)
}

// Load returns the persisted identifier, creating one on first use. When the
// identifier cannot be written anywhere, a fresh one is returned with
// persisted set to false and it only lives as long as the process.
func (s Store) Load() (id string, persisted bool) {
	path := s.Path()
	if id := read(path); id != "" {
		return id, true
	}

	id = uuid.NewString()
	err := write(path, id)
	if err == nil {
		return id, true
	}
	slog.Warn("Failed to persist device id", "path", path, "error", err)

	fallback := filepath.Join(paths.ProcessDir(), FileName)
	if id := read(fallback); id != "" {
		return id, false
	}
	if err := write(fallback, id); err != nil {
		slog.Debug("Failed to write process-local device id", "path", fallback, "error", err)
	}
	return id, false
}

func read(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func write(path, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, strings.NewReader(id+"\n"))
}
