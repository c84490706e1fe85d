// Package logging provides config-driven categorized file-based logging for
// the council orchestrator. Logs are written to <runs-root>/logs/ with one
// file per category. When debug_mode is off, every call is a no-op.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config resolution
	CategoryMission  Category = "mission"  // Intake, team compile, run init
	CategoryRound    Category = "round"    // Round state machine transitions
	CategorySeat     Category = "seat"     // Per-seat launch/wait/kill
	CategoryRouter   Category = "router"   // Provider attempts, breaker state
	CategoryGovernor Category = "governor" // Slot locks, adaptive feedback
	CategoryDecision Category = "decision" // Extraction and repair
	CategoryPatch    Category = "patch"    // Diff block validation and apply
	CategoryVerify   Category = "verify"   // Verify pipeline checks
	CategoryLedger   Category = "ledger"   // Evidence append/verify, sinks
	CategoryAction   Category = "action"   // Idempotency, approvals
	CategoryEnrich   Category = "enrich"   // Post-round enrichers
	CategoryStore    Category = "store"    // Mission archive store
	CategoryProc     Category = "proc"     // Subprocess lifecycle
)

// Settings mirrors config.LoggingConfig to avoid a circular import. The
// central Config record populates it once at startup.
type Settings struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
	JSONFormat bool            `json:"json_format"`
}

// StructuredLogEntry is the JSON line format when json_format is enabled.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	settings  Settings
	setMu     sync.RWMutex
	logLevel  int
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory from resolved settings.
// Call once at startup with the runs root (e.g. <repo>/.council).
func Initialize(root string, s Settings) error {
	if root == "" {
		return fmt.Errorf("runs root required")
	}

	setMu.Lock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "info", "":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	setMu.Unlock()

	logsDir = filepath.Join(root, "logs")

	if !s.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== council logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Level: %s json=%v", s.Level, s.JSONFormat)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	setMu.RLock()
	defer setMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	setMu.RLock()
	defer setMu.RUnlock()

	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
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

	// Date prefix for easy rotation.
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

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) emit(level int, tag, format string, args ...interface{}) {
	if l.logger == nil || logLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	setMu.RLock()
	jsonFmt := settings.JSONFormat
	setMu.RUnlock()
	if jsonFmt {
		l.logJSON(tag, msg)
	} else {
		l.logger.Printf("[%s] %s", tag, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.emit(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, "WARN", format, args...)
}

// Error logs an error message. Always written when the logger is live.
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, "ERROR", format, args...)
}

// StructuredLog writes a structured entry with custom fields.
func (l *Logger) StructuredLog(level, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	if data, err := json.Marshal(entry); err == nil {
		l.logger.Printf("%s", data)
		return
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
}

// CloseAll closes all open log files (call at shutdown).
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

// Convenience helpers. No-ops when the category is disabled.

func Boot(format string, args ...interface{})     { Get(CategoryBoot).Info(format, args...) }
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

func Mission(format string, args ...interface{})      { Get(CategoryMission).Info(format, args...) }
func MissionDebug(format string, args ...interface{}) { Get(CategoryMission).Debug(format, args...) }

func Round(format string, args ...interface{})      { Get(CategoryRound).Info(format, args...) }
func RoundDebug(format string, args ...interface{}) { Get(CategoryRound).Debug(format, args...) }
func RoundWarn(format string, args ...interface{})  { Get(CategoryRound).Warn(format, args...) }

func Seat(format string, args ...interface{})      { Get(CategorySeat).Info(format, args...) }
func SeatDebug(format string, args ...interface{}) { Get(CategorySeat).Debug(format, args...) }
func SeatWarn(format string, args ...interface{})  { Get(CategorySeat).Warn(format, args...) }

func Router(format string, args ...interface{})      { Get(CategoryRouter).Info(format, args...) }
func RouterDebug(format string, args ...interface{}) { Get(CategoryRouter).Debug(format, args...) }
func RouterWarn(format string, args ...interface{})  { Get(CategoryRouter).Warn(format, args...) }

func Governor(format string, args ...interface{})      { Get(CategoryGovernor).Info(format, args...) }
func GovernorDebug(format string, args ...interface{}) { Get(CategoryGovernor).Debug(format, args...) }
func GovernorWarn(format string, args ...interface{})  { Get(CategoryGovernor).Warn(format, args...) }

func Decision(format string, args ...interface{})     { Get(CategoryDecision).Info(format, args...) }
func DecisionWarn(format string, args ...interface{}) { Get(CategoryDecision).Warn(format, args...) }

func Patch(format string, args ...interface{})     { Get(CategoryPatch).Info(format, args...) }
func PatchWarn(format string, args ...interface{}) { Get(CategoryPatch).Warn(format, args...) }

func Verify(format string, args ...interface{})     { Get(CategoryVerify).Info(format, args...) }
func VerifyWarn(format string, args ...interface{}) { Get(CategoryVerify).Warn(format, args...) }

func Ledger(format string, args ...interface{})      { Get(CategoryLedger).Info(format, args...) }
func LedgerWarn(format string, args ...interface{})  { Get(CategoryLedger).Warn(format, args...) }
func LedgerError(format string, args ...interface{}) { Get(CategoryLedger).Error(format, args...) }

func Action(format string, args ...interface{}) { Get(CategoryAction).Info(format, args...) }

func Enrich(format string, args ...interface{})     { Get(CategoryEnrich).Info(format, args...) }
func EnrichWarn(format string, args ...interface{}) { Get(CategoryEnrich).Warn(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Proc(format string, args ...interface{})      { Get(CategoryProc).Info(format, args...) }
func ProcDebug(format string, args ...interface{}) { Get(CategoryProc).Debug(format, args...) }

// Timer measures operation durations.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}
