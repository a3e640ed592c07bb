// Package logging provides categorized file-based logging for the policy
// engine. Logs are written to <dir>/logs/ with separate files per category.
// Logging is off unless POLICYD_DEBUG is set; the directory defaults to
// .policyd under the working directory and can be overridden with
// POLICYD_LOG_DIR.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and initialization
	CategoryKernel   Category = "kernel"   // Fact store and rule evaluation
	CategoryGuard    Category = "guard"    // Risk attempt guard
	CategoryMission  Category = "mission"  // Mission state machine
	CategoryZPD      Category = "zpd"      // Difficulty recommendation
	CategoryProgress Category = "progress" // Level unlock and certificates
	CategoryHistory  Category = "history"  // Mission history store
	CategoryGeneral  Category = "general"  // Everything else
)

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	enabled   bool
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory from the environment.
// Call once at startup; a missing POLICYD_DEBUG makes everything a no-op.
func Initialize(baseDir string) error {
	if os.Getenv("POLICYD_DEBUG") == "" {
		enabled = false
		return nil
	}
	enabled = true

	switch os.Getenv("POLICYD_LOG_LEVEL") {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	if dir := os.Getenv("POLICYD_LOG_DIR"); dir != "" {
		logsDir = dir
	} else {
		if baseDir == "" {
			baseDir = "."
		}
		logsDir = filepath.Join(baseDir, ".policyd", "logs")
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== policyd logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	return nil
}

// IsDebugMode returns whether logging is enabled
func IsDebugMode() bool {
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger when logging is disabled.
func Get(category Category) *Logger {
	if !enabled || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation trivial
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Kernel logs to the kernel category
func Kernel(format string, args ...interface{}) {
	Get(CategoryKernel).Info(format, args...)
}

// KernelDebug logs debug to the kernel category
func KernelDebug(format string, args ...interface{}) {
	Get(CategoryKernel).Debug(format, args...)
}

// KernelError logs error to the kernel category
func KernelError(format string, args ...interface{}) {
	Get(CategoryKernel).Error(format, args...)
}

// Guard logs to the guard category
func Guard(format string, args ...interface{}) {
	Get(CategoryGuard).Info(format, args...)
}

// GuardDebug logs debug to the guard category
func GuardDebug(format string, args ...interface{}) {
	Get(CategoryGuard).Debug(format, args...)
}

// Mission logs to the mission category
func Mission(format string, args ...interface{}) {
	Get(CategoryMission).Info(format, args...)
}

// MissionDebug logs debug to the mission category
func MissionDebug(format string, args ...interface{}) {
	Get(CategoryMission).Debug(format, args...)
}

// ZPD logs to the zpd category
func ZPD(format string, args ...interface{}) {
	Get(CategoryZPD).Info(format, args...)
}

// ZPDDebug logs debug to the zpd category
func ZPDDebug(format string, args ...interface{}) {
	Get(CategoryZPD).Debug(format, args...)
}

// ZPDWarn logs warning to the zpd category
func ZPDWarn(format string, args ...interface{}) {
	Get(CategoryZPD).Warn(format, args...)
}

// Progress logs to the progress category
func Progress(format string, args ...interface{}) {
	Get(CategoryProgress).Info(format, args...)
}

// History logs to the history category
func History(format string, args ...interface{}) {
	Get(CategoryHistory).Info(format, args...)
}

// HistoryError logs error to the history category
func HistoryError(format string, args ...interface{}) {
	Get(CategoryHistory).Error(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
