// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and destination of log output.
type Options struct {
	Debug bool
	// File, when set, receives the output through a size-rotated writer
	// instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Configure applies opts to logger. The returned closer releases the log
// file and is a no-op when logging to stderr.
func Configure(logger *log.Logger, opts Options) (io.Closer, error) {
	logger.SetLevel(log.InfoLevel)
	if opts.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	if opts.File == "" {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
		return nil, err
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	w := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}
	logger.SetOutput(w)
	logger.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	return w, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
