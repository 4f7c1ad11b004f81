// logger.go - Structured logging for the settlement daemon
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// auditWriter forwards only warn-and-above entries to the audit file.
type auditWriter struct {
	w io.Writer
}

func (a auditWriter) Write(p []byte) (int, error) { return a.w.Write(p) }

func (a auditWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel {
		return len(p), nil
	}
	return a.w.Write(p)
}

// NewLogger builds the daemon logger: console always, plus an optional log
// file and an optional audit file that records warnings and errors only.
// The returned closer shuts the file handles.
func NewLogger(level, logFile, auditFile string) (zerolog.Logger, func(), error) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}
	var files []*os.File

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		files = append(files, f)
		writers = append(writers, f)
	}
	if auditFile != "" {
		f, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		files = append(files, f)
		writers = append(writers, auditWriter{f})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(logLevel).
		With().Timestamp().Logger()

	closer := func() {
		for _, f := range files {
			f.Close()
		}
	}
	return logger, closer, nil
}
