// Package logging provides categorized file-based logging for codeforge.
// Logs are written as JSON lines to <project-root>/.forge/logs/ with one file
// per day and category. Debug output is controlled by the debug flag passed to
// Initialize; when disabled only warnings and errors are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and shutdown
	CategorySession      Category = "session"      // Session lifecycle, snapshots
	CategoryStore        Category = "store"        // SQLite store operations
	CategoryEmbedding    Category = "embedding"    // Embedding engine
	CategoryMemory       Category = "memory"       // Memory layers and prompt composition
	CategoryBudget       Category = "budget"       // Token budget accounting
	CategoryPlanner      Category = "planner"      // Task planning
	CategoryExecutor     Category = "executor"     // Task execution
	CategoryApproval     Category = "approval"     // Approval gate decisions
	CategoryOrchestrator Category = "orchestrator" // Turn state machine
	CategoryTools        Category = "tools"        // Tool registry and execution
	CategoryAPI          Category = "api"          // LLM API calls
	CategoryEvents       Category = "events"       // Event emission
)

// Retention window for log files. Files older than this are removed
// during Initialize.
const retentionDays = 7

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// entry is the JSON-lines log record shape.
type entry struct {
	Timestamp int64          `json:"ts"` // Unix milliseconds
	Category  string         `json:"cat"`
	Level     string         `json:"lvl"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes entries for a single category.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	debugMode bool
	logLevel  = LevelInfo
)

// Initialize sets up the logging directory under the given state dir
// (typically <project-root>/.forge). Must be called once at startup.
func Initialize(stateDir string, debug bool) error {
	if stateDir == "" {
		return fmt.Errorf("state dir required")
	}

	logsDir = filepath.Join(stateDir, "logs")
	debugMode = debug
	if debug {
		logLevel = LevelDebug
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	sweepOldLogs()

	boot := Get(CategoryBoot)
	boot.Info("codeforge logging initialized (dir=%s debug=%v)", logsDir, debug)
	return nil
}

// IsDebugMode reports whether debug logging is enabled.
func IsDebugMode() bool {
	return debugMode
}

// sweepOldLogs removes log files past the retention window.
func sweepOldLogs() {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(logsDir, e.Name()))
		}
	}
}

// Get returns (or creates) the logger for a category. Returns a no-op
// logger before Initialize or when the file cannot be opened.
func Get(category Category) *Logger {
	if logsDir == "" {
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
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", 0),
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all open log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

func (l *Logger) write(level, msg string) {
	if l.logger == nil {
		return
	}
	e := entry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message (only in debug mode).
func (l *Logger) Debug(format string, args ...any) {
	if logLevel > LevelDebug {
		return
	}
	l.write("debug", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	if logLevel > LevelInfo {
		return
	}
	l.write("info", fmt.Sprintf(format, args...))
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) {
	if logLevel > LevelWarn {
		return
	}
	l.write("warn", fmt.Sprintf(format, args...))
}

// Error logs an error.
func (l *Logger) Error(format string, args ...any) {
	l.write("error", fmt.Sprintf(format, args...))
}

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation for performance logging.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time. Operations slower than one second are
// logged at warn level.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	l := Get(t.category)
	if elapsed > time.Second {
		l.Warn("%s took %v", t.operation, elapsed)
		return
	}
	l.Debug("%s took %v", t.operation, elapsed)
}
