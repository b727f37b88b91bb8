// Package auditlog writes human-readable job audit files that outlive the
// process, one line per affected record.
package auditlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultDir returns the long-lived directory audit files go to when none is
// configured
func DefaultDir() string {
	return filepath.Join(os.TempDir(), "custodian", "longlife", "jobs")
}

// Log is an append-only audit file. It is safe for concurrent use.
type Log struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// Open opens (or creates) <dir>/<name>.log for append and writes the run
// header: two blank lines followed by "<name> executing on <timestamp>".
func Open(dir, name string) (*Log, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	path := filepath.Join(dir, name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	header := fmt.Sprintf("\n\n%s executing on %s\n", name, time.Now().Format(time.RFC1123))
	if _, err := file.WriteString(header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write audit log header: %w", err)
	}

	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(file), zapcore.DebugLevel)

	return &Log{
		path:   path,
		file:   file,
		logger: zap.New(core),
	}, nil
}

// Path returns the absolute location of the audit file
func (l *Log) Path() string {
	if abs, err := filepath.Abs(l.path); err == nil {
		return abs
	}
	return l.path
}

// WriteLine appends one line
func (l *Log) WriteLine(line string) {
	l.logger.Info(line)
}

// WriteLines appends lines in order
func (l *Log) WriteLines(lines []string) {
	for _, line := range lines {
		l.logger.Info(line)
	}
}

// Close flushes and closes the file
func (l *Log) Close() error {
	_ = l.logger.Sync()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log: %w", err)
	}
	return nil
}
