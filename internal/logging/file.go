package logging

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// AddFile tees log output into a size-rotated file alongside the current
// writer. The returned closer must be closed on shutdown.
func AddFile(opts FileOptions) io.Closer {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	sink := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	current := defaultLogger.output
	if current == nil {
		current = os.Stdout
	}
	defaultLogger.output = io.MultiWriter(current, sink)
	// ANSI styling would end up in the file.
	defaultLogger.styled = false
	return sink
}
