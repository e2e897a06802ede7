// Package logging builds the component loggers. Every component gets a
// standard *log.Logger with a "[component] " prefix; when a log file is
// configured the output is also written to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/orgplan/planner/internal/config"
)

// Output is a shared log destination.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Open returns an Output writing to console and, if cfg.File is set, to a
// rotated file. A nil console means os.Stderr.
func Open(cfg config.LogConfig, console io.Writer) *Output {
	if console == nil {
		console = os.Stderr
	}
	if cfg.File == "" {
		return &Output{w: console}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Output{w: io.MultiWriter(console, file), file: file}
}

// Discard returns an Output that drops everything.
func Discard() *Output {
	return &Output{w: io.Discard}
}

// Logger returns a logger for component.
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Writer exposes the underlying destination.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Rotate closes the current log file and starts a new one.
func (o *Output) Rotate() error {
	if o.file == nil {
		return nil
	}
	return o.file.Rotate()
}

// Close releases the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
