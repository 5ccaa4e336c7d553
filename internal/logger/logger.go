package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents different log levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelSuccess
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarn:    "WARN",
	LevelSuccess: "SUCCESS",
	LevelError:   "ERROR",
}

var levelColors = map[Level]string{
	LevelDebug:   "\033[36m",   // Cyan
	LevelInfo:    "\033[32m",   // Green
	LevelWarn:    "\033[33m",   // Yellow
	LevelSuccess: "\033[32;1m", // Bright Green
	LevelError:   "\033[31m",   // Red
}

// sink is the shared output every package logger writes through. Console and
// the run-scoped log file are fed from the same line so they never diverge.
type sink struct {
	mu       sync.Mutex
	console  io.Writer
	file     io.Writer
	secrets  []string
	minLevel Level
}

var root = &sink{console: os.Stdout, minLevel: LevelInfo}

// SetLevel sets the minimum level emitted by every package logger.
func SetLevel(level Level) {
	root.mu.Lock()
	defer root.mu.Unlock()
	root.minLevel = level
}

// TeeToFile opens (or creates) the run log file and mirrors every subsequent
// log line into it. The returned func closes the file.
func TeeToFile(path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	root.mu.Lock()
	root.file = f
	root.mu.Unlock()
	return f.Close, nil
}

// RedactSecret registers a value that must never appear in log output,
// including inside URLs with embedded credentials.
func RedactSecret(value string) {
	if value == "" {
		return
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	root.secrets = append(root.secrets, value)
}

func (s *sink) write(level Level, prefix, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if level < s.minLevel {
		return
	}

	for _, secret := range s.secrets {
		msg = strings.ReplaceAll(msg, secret, "****")
	}

	ts := time.Now().Format("2006-01-02 15:04:05")
	name := levelNames[level]

	if s.console != nil {
		fmt.Fprintf(s.console, "%s %s%-7s\033[0m %s%s\n", ts, levelColors[level], name, prefix, msg)
	}
	if s.file != nil {
		fmt.Fprintf(s.file, "%s %-7s %s%s\n", ts, name, prefix, msg)
	}
}

// Logger is a leveled logger scoped to one package.
type Logger struct {
	s      *sink
	prefix string
}

// PackageLogger creates a logger whose lines carry the package name.
func PackageLogger(pkg string) *Logger {
	return &Logger{s: root, prefix: "[" + pkg + "] "}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	l.s.write(level, l.prefix, fmt.Sprintf(msg, args...))
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

func (l *Logger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

func (l *Logger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

func (l *Logger) Success(msg string, args ...interface{}) { l.log(LevelSuccess, msg, args...) }

func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }
