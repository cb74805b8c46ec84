package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/mender/internal/models"
)

// FileLogger logs repair events to files in a log directory.
// It creates timestamped per-run log files, per-attempt detail logs,
// and maintains a latest.log symlink pointing to the most recent run.
type FileLogger struct {
	logDir      string
	runLog      *os.File
	runFile     string
	attemptsDir string
	logLevel    string
	crashID     string
	mu          sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir at level "info".
func NewFileLogger(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithLevel(logDir, "info")
}

// NewFileLoggerWithLevel creates the log directory, opens a timestamped
// run log file and points latest.log at it.
func NewFileLoggerWithLevel(logDir string, logLevel string) (*FileLogger, error) {
	attemptsDir := filepath.Join(logDir, "attempts")
	if err := os.MkdirAll(attemptsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:      logDir,
		runLog:      file,
		runFile:     runFile,
		attemptsDir: attemptsDir,
		logLevel:    normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Mender Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !enabled(fl.logLevel, level) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// RunStarted implements repair.Observer.
func (fl *FileLogger) RunStarted(crash *models.CrashContext, maxIterations int) {
	fl.mu.Lock()
	fl.crashID = crash.ID
	fl.mu.Unlock()

	fl.LogInfo(runStartedMessage(crash, maxIterations))
	fl.LogInfo("Error: " + crash.Error)
	if crash.Command != "" {
		fl.LogInfo("Command: " + crash.Command)
	}
	fl.LogDebug("Traceback:\n" + crash.Traceback)
}

// AttemptStarted implements repair.Observer.
func (fl *FileLogger) AttemptStarted(index, maxIterations int) {
	fl.LogInfo(fmt.Sprintf("Attempt %d/%d started", index, maxIterations))
}

// AttemptFinished implements repair.Observer. The full attempt, including
// the patch and diagnostic, goes to attempts/<crash>-<index>.log.
func (fl *FileLogger) AttemptFinished(attempt models.RepairAttempt) {
	fl.LogInfo(attemptStatus(attempt) + " " + attemptDetail(attempt))

	path, err := fl.writeAttemptLog(attempt)
	if err != nil {
		fl.LogWarn(fmt.Sprintf("failed to write attempt log: %v", err))
		return
	}
	fl.LogDebug("Attempt details: " + path)
}

func (fl *FileLogger) writeAttemptLog(a models.RepairAttempt) (string, error) {
	fl.mu.Lock()
	crashID := fl.crashID
	fl.mu.Unlock()
	if crashID == "" {
		crashID = "crash"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Attempt %d ===\n", a.Index))
	sb.WriteString(fmt.Sprintf("Status: %s\n", attemptStatus(a)))
	sb.WriteString(fmt.Sprintf("Diagnosis: %s\nApply: %s\nValidation: %s\n", a.Diagnosis, a.Apply, a.Validation))
	if a.ErrorKind != models.ErrorNone {
		sb.WriteString(fmt.Sprintf("Error kind: %s\n", a.ErrorKind))
	}
	sb.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(a.Duration)))
	if a.Approach != "" {
		sb.WriteString(fmt.Sprintf("Approach: %s\n", a.Approach))
	}
	if a.Repeated {
		sb.WriteString("Repeated: yes\n")
	}
	if a.Patch != nil {
		if a.Patch.Rationale != "" {
			sb.WriteString(fmt.Sprintf("Rationale: %s\n", a.Patch.Rationale))
		}
		sb.WriteString("\nEdits:\n")
		for _, e := range a.Patch.Edits {
			path := e.Path
			if path == "" {
				path = "(from diff headers)"
			}
			sb.WriteString(fmt.Sprintf("  - %s %s\n", e.Kind, path))
		}
	}
	if a.Diagnostic != "" {
		sb.WriteString("\nDiagnostic:\n")
		sb.WriteString(a.Diagnostic)
		if !strings.HasSuffix(a.Diagnostic, "\n") {
			sb.WriteString("\n")
		}
	}

	path := filepath.Join(fl.attemptsDir, fmt.Sprintf("%s-%d.log", crashID, a.Index))
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// RunFinished implements repair.Observer.
func (fl *FileLogger) RunFinished(outcome *models.RepairOutcome) {
	if outcome.Success {
		fl.LogInfo(runFinishedMessage(outcome))
	} else {
		fl.LogError(runFinishedMessage(outcome))
	}

	var sb strings.Builder
	sb.WriteString("\n=== Summary ===\n")
	sb.WriteString(fmt.Sprintf("Crash: %s\nSignature: %s\nStatus: %s\nIterations: %d\n",
		outcome.CrashID, outcome.Signature, outcome.Status, outcome.Iterations))
	for _, a := range outcome.Attempts {
		sb.WriteString(fmt.Sprintf("  %-9s %s\n", attemptStatus(a), attemptDetail(a)))
	}
	sb.WriteString(knowledgeMessage(outcome) + "\n\n")
	fl.writeRunLog(sb.String())
}

// LogStats logs knowledge store statistics under label.
func (fl *FileLogger) LogStats(label string, stats models.Stats) {
	fl.LogInfo(statsMessage(label, stats))
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}
