// Package logger reports repair progress to the console and to per-run log
// files. Both loggers implement repair.Observer and are safe for concurrent
// use.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/harrison/mender/internal/models"
)

// ConsoleLogger logs repair progress to a writer.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is enabled for os.Stdout/os.Stderr when they are TTYs.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
	scheme      *colorScheme
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
		scheme:      newColorScheme(),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetColor forces color output on or off.
func (cl *ConsoleLogger) SetColor(enabled bool) {
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.colorOutput = enabled
}

// LogTrace logs a trace-level message (most verbose).
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !enabled(cl.logLevel, level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	shown := level
	if cl.colorOutput {
		shown = cl.scheme.level(level)
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp(), shown, message)
}

// write emits an INFO line without a level tag, the way progress lines read.
func (cl *ConsoleLogger) write(message string) {
	if cl.writer == nil || !enabled(cl.logLevel, "info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	fmt.Fprintf(cl.writer, "[%s] %s\n", timestamp(), message)
}

// RunStarted implements repair.Observer.
func (cl *ConsoleLogger) RunStarted(crash *models.CrashContext, maxIterations int) {
	cl.write(runStartedMessage(crash, maxIterations))
	if crash.Error != "" {
		cl.write("  " + crash.Error)
	}
}

// AttemptStarted implements repair.Observer.
// Format: "[HH:MM:SS] Attempt [===       ] 1/3 (33%)"
func (cl *ConsoleLogger) AttemptStarted(index, maxIterations int) {
	pb := NewProgressBar(maxIterations, 10, cl.colorOutput)
	pb.SetPrefix("Attempt ")
	pb.Update(index)
	cl.write(pb.Render())
}

// AttemptFinished implements repair.Observer. The tail of a failing
// diagnostic is shown at debug level.
func (cl *ConsoleLogger) AttemptFinished(attempt models.RepairAttempt) {
	status := attemptStatus(attempt)
	if cl.colorOutput {
		status = cl.scheme.status(status)
	}
	cl.write(status + " " + attemptDetail(attempt))

	if attempt.Passed() || attempt.Diagnostic == "" {
		return
	}
	for _, line := range lastLines(attempt.Diagnostic, diagnosticLines) {
		cl.LogDebug("  " + line)
	}
}

// RunFinished implements repair.Observer.
func (cl *ConsoleLogger) RunFinished(outcome *models.RepairOutcome) {
	msg := runFinishedMessage(outcome)
	if cl.colorOutput {
		if outcome.Success {
			msg = cl.scheme.success.Sprint(msg)
		} else {
			msg = cl.scheme.fail.Sprint(msg)
		}
	}
	cl.write(msg)

	if outcome.PersistenceFailed() {
		cl.LogWarn(knowledgeMessage(outcome))
	} else {
		cl.LogDebug(knowledgeMessage(outcome))
	}
}

// LogStats logs knowledge store statistics under label.
func (cl *ConsoleLogger) LogStats(label string, stats models.Stats) {
	cl.write(statsMessage(label, stats))
}

// LogLines writes pre-formatted lines verbatim, for tabular CLI output.
func (cl *ConsoleLogger) LogLines(lines []string) {
	if cl.writer == nil {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	io.WriteString(cl.writer, strings.Join(lines, "\n")+"\n")
}
