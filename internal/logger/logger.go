package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %q", s)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func fromZapLevel(l zapcore.Level) Level {
	switch l {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

// Logger writes leveled messages to a daily log file and, optionally, a console
type Logger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
	file  *dailyFile
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
	// Console also receives every entry when non-nil
	Console io.Writer
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	logDir := filepath.Join(homeDir, ".local", "state", "volp", "logs")

	return Config{
		LogDir:        logDir,
		Level:         INFO,
		RetentionDays: 7,
		Console:       os.Stderr,
	}
}

// New creates a new logger
func New(config Config) (*Logger, error) {
	file := &dailyFile{
		dir:           config.LogDir,
		retentionDays: config.RetentionDays,
		now:           time.Now,
	}
	if err := file.rotate(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	level := zap.NewAtomicLevelAt(config.Level.zapLevel())
	encoder := zapcore.NewConsoleEncoder(encoderConfig())

	cores := []zapcore.Core{zapcore.NewCore(encoder, file, level)}
	if config.Console != nil {
		cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(config.Console), level))
	}

	return &Logger{
		level: level,
		sugar: zap.New(zapcore.NewTee(cores...)).Sugar(),
		file:  file,
	}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		level: zap.NewAtomicLevelAt(zapcore.InfoLevel),
		sugar: zap.NewNop().Sugar(),
	}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "time",
		LevelKey:   "level",
		MessageKey: "message",
		EncodeTime: zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05"),
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		},
		ConsoleSeparator: " ",
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Path returns the current log file, or "" for a Nop logger
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.path()
}

// Close flushes and closes the log file
func (l *Logger) Close() error {
	l.sugar.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	return fromZapLevel(l.level.Level())
}

// dailyFile is a zapcore.WriteSyncer that switches to a new file every day
type dailyFile struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	now           func() time.Time
	file          *os.File
	currentDay    string
}

func logFileName(day string) string {
	return fmt.Sprintf("volp-%s.log", day)
}

func (f *dailyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.now().Format("20060102") != f.currentDay || f.file == nil {
		if err := f.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return f.file.Write(p)
}

func (f *dailyFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *dailyFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *dailyFile) path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filepath.Join(f.dir, logFileName(f.currentDay))
}

func (f *dailyFile) rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked()
}

// rotateLocked opens today's file and removes expired ones
func (f *dailyFile) rotateLocked() error {
	today := f.now().Format("20060102")

	if f.file != nil {
		f.file.Close()
		f.file = nil
	}

	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(f.dir, logFileName(today)), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	f.file = file
	f.currentDay = today

	if err := f.cleanOldLogs(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clean old logs: %v\n", err)
	}
	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (f *dailyFile) cleanOldLogs() error {
	if f.retentionDays <= 0 {
		return nil
	}
	cutoffDate := f.now().AddDate(0, 0, -f.retentionDays)

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			os.Remove(filepath.Join(f.dir, entry.Name()))
		}
	}

	return nil
}
