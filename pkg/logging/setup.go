package logging

import (
	"cmp"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/docker/keytrail/pkg/paths"
)

// DefaultFileName is the debug log name under the data directory.
const DefaultFileName = "keytrail.debug.log"

// Options configures Setup.
type Options struct {
	Debug bool
	// Path overrides <dataDir>/keytrail.debug.log.
	Path string
	// Fallback receives logs when the file cannot be opened.
	Fallback io.Writer
}

// Setup builds the process logger. Without Debug everything is discarded.
// With Debug, logs go to a rotating file, or to Fallback when the file
// cannot be opened. The returned closer is never nil.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	if !opts.Debug {
		return slog.New(slog.DiscardHandler), nopCloser{}
	}

	handlerOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
	path := cmp.Or(strings.TrimSpace(opts.Path), filepath.Join(paths.GetDataDir(), DefaultFileName))

	file, err := NewRotatingFile(path)
	if err != nil {
		if opts.Fallback == nil {
			return slog.New(slog.DiscardHandler), nopCloser{}
		}
		logger := slog.New(slog.NewTextHandler(opts.Fallback, handlerOpts))
		logger.Warn("Failed to open debug log file, logging to stderr", "path", path, "error", err)
		return logger, nopCloser{}
	}

	return slog.New(slog.NewTextHandler(file, handlerOpts)), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
