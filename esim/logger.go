package esim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger interface for download session logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// WriterLogger writes timestamped log lines to an io.Writer
type WriterLogger struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterLogger creates a logger that writes to w
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{w: w}
}

func (l *WriterLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.w == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.w, "[%s] %s: %s\n", timestamp, level, msg)
}

func (l *WriterLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *WriterLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *WriterLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

// FileLogger writes logs to a file
type FileLogger struct {
	*WriterLogger
	file *os.File
}

// NewFileLogger creates a logger that appends to the file at path
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{WriterLogger: NewWriterLogger(file), file: file}, nil
}

func (l *FileLogger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

const maxLoggedFrame = 128

// FormatFrameLog formats a raw frame for logging, truncating long payloads
func FormatFrameLog(direction string, data []byte) string {
	if len(data) > maxLoggedFrame {
		return fmt.Sprintf("%s %d bytes: %q...[truncated]", direction, len(data), data[:maxLoggedFrame])
	}
	return fmt.Sprintf("%s %d bytes: %q", direction, len(data), data)
}
