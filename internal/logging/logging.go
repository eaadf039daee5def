// Package logging builds the component loggers used across irissync.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for the log file.
const (
	MaxSizeMB  = 10
	MaxBackups = 5
	MaxAgeDays = 30
)

// Output is the shared log destination: stderr, plus a rotating file when
// one is configured.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open returns an Output writing to stderr and, when path is non-empty, to
// a rotating file at path. The file's directory is created if needed.
func Open(path string) (*Output, error) {
	return open(os.Stderr, path)
}

func open(stderr io.Writer, path string) (*Output, error) {
	if path == "" {
		return &Output{w: stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    MaxSizeMB,
		MaxBackups: MaxBackups,
		MaxAge:     MaxAgeDays,
	}
	return &Output{w: io.MultiWriter(stderr, file), file: file}, nil
}

// Logger returns a logger for one component. The component name is wrapped in brackets,
// so "sync" logs as "[sync] ...".
func (o *Output) Logger(component string) *log.Logger {
	prefix := ""
	if component != "" {
		prefix = "[" + component + "] "
	}
	return log.New(o.w, prefix, log.LstdFlags)
}

// Close closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
