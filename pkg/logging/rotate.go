// Package logging writes keytrail's debug log. Editor integrations own stdout
// and often stderr, so debug output goes to a size-rotated file.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultMaxSize    = 10 * 1024 * 1024 // 10MB
	DefaultMaxBackups = 3
)

var errClosed = errors.New("log file is closed")

// RotatingFile is an io.WriteCloser that moves the current file to path.1
// (shifting older backups up to path.N) once a write would exceed the size
// limit.
type RotatingFile struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

type Option func(*RotatingFile)

// WithMaxSize sets the size at which the file rotates.
func WithMaxSize(size int64) Option {
	return func(r *RotatingFile) {
		if size > 0 {
			r.maxSize = size
		}
	}
}

// WithMaxBackups sets how many rotated files are kept. Zero truncates the
// file in place instead of keeping backups.
func WithMaxBackups(count int) Option {
	return func(r *RotatingFile) {
		if count >= 0 {
			r.maxBackups = count
		}
	}
}

// NewRotatingFile opens path for appending, creating its directory.
func NewRotatingFile(path string, opts ...Option) (*RotatingFile, error) {
	r := &RotatingFile{
		path:       path,
		maxSize:    DefaultMaxSize,
		maxBackups: DefaultMaxBackups,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := r.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) open(mode int) error {
	file, err := os.OpenFile(r.path, mode|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	r.file = file
	r.size = info.Size()
	return nil
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, errClosed
	}
	// A single oversized write still goes to a fresh file rather than being split.
	if r.size > 0 && r.size+int64(len(p)) > r.maxSize {
		if err := r.rotateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *RotatingFile) backup(i int) string {
	return fmt.Sprintf("%s.%d", r.path, i)
}

func (r *RotatingFile) rotateLocked() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil

	if r.maxBackups == 0 {
		return r.open(os.O_TRUNC)
	}

	_ = os.Remove(r.backup(r.maxBackups))
	for i := r.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(r.backup(i), r.backup(i+1))
	}
	if err := os.Rename(r.path, r.backup(1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return r.open(os.O_APPEND)
}
