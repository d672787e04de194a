// Package logger writes the store's system and access logs. It doubles as
// the bridge from engine events to log lines: EngineSink maps every event
// the engine emits onto a severity, so the server wires one sink and gets
// leveled logging for free. Keys may appear in log lines; stored values
// never do.
package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"durakv/internal/common"
)

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

func (s Severity) tag() string {
	switch s {
	case SeverityDebug:
		return "[DBG]"
	case SeverityInfo:
		return "[INF]"
	case SeverityWarn:
		return "[WRN]"
	}
	return "[ERR]"
}

func ParseSeverity(levelString string) Severity {
	switch strings.ToUpper(levelString) {
	case "DEBUG":
		return SeverityDebug
	case "WARN":
		return SeverityWarn
	case "ERROR":
		return SeverityError
	}
	return SeverityInfo
}

const (
	systemLogName = "durakv.log"
	accessLogName = "access.log"

	// defaultMaxFileBytes is the per-file rotation threshold. One rotated
	// predecessor is kept (<name>.old); older generations are overwritten.
	defaultMaxFileBytes = 32 * 1024 * 1024
)

// logFile is one buffered output with its own size tracking. The writer is
// flushed on Warn and Error lines, on rotation, and on Close; Debug and
// Info lines ride the buffer.
type logFile struct {
	file    *os.File
	writer  *bufio.Writer
	path    string
	written int64
}

func openLogFile(path string) (*logFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &logFile{file: f, writer: bufio.NewWriter(f), path: path, written: info.Size()}, nil
}

// Logger is safe for concurrent use. A nil *Logger discards everything, so
// components can take one without caring whether logging is configured.
type Logger struct {
	mu       sync.Mutex
	min      Severity
	maxBytes int64

	system *logFile
	access *logFile
}

// New opens the system and access logs under directory.
func New(directory, levelString string) (*Logger, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	system, err := openLogFile(filepath.Join(directory, systemLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to open system log: %w", err)
	}
	access, err := openLogFile(filepath.Join(directory, accessLogName))
	if err != nil {
		system.file.Close()
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}

	return &Logger{
		min:      ParseSeverity(levelString),
		maxBytes: defaultMaxFileBytes,
		system:   system,
		access:   access,
	}, nil
}

func (l *Logger) writeLine(target *logFile, tag, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := time.Now().Format(time.RFC3339) + " " + tag + " " + fmt.Sprintf(format, args...) + "\n"
	n, _ := target.writer.WriteString(line)
	target.written += int64(n)

	if target.written >= l.maxBytes {
		l.rotateLocked(target)
	}
}

// rotateLocked moves the active file aside as <path>.old and starts fresh.
func (l *Logger) rotateLocked(target *logFile) {
	target.writer.Flush()
	target.file.Close()
	os.Rename(target.path, target.path+".old")

	fresh, err := openLogFile(target.path)
	if err != nil {
		// Keep the old handles dead; subsequent writes go nowhere until
		// the next successful rotation.
		return
	}
	*target = *fresh
}

func (l *Logger) log(sev Severity, format string, args ...interface{}) {
	if l == nil || sev < l.min {
		return
	}
	l.writeLine(l.system, sev.tag(), format, args...)
	if sev >= SeverityWarn {
		l.Flush()
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(SeverityDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(SeverityInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(SeverityWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(SeverityError, format, args...) }

// Access writes one request line to the access log, regardless of the
// system severity floor.
func (l *Logger) Access(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.writeLine(l.access, "[ACC]", format, args...)
}

// Flush pushes buffered lines of both files to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.system.writer.Flush()
	l.access.writer.Flush()
}

func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.system.writer.Flush()
	l.access.writer.Flush()
	l.system.file.Close()
	l.access.file.Close()
}

// EngineSink adapts the logger into the engine's event observer. Errors and
// warnings land at their severities, lifecycle milestones at info, and the
// per-operation chatter (set/get/miss/delete/expired, flush counts) at
// debug. Only keys and counts are logged, never values.
func (l *Logger) EngineSink() common.EventSink {
	return common.SinkFunc(func(event string, args ...interface{}) {
		switch event {
		case common.EventError:
			l.Error("engine: %s", formatEventArgs(args))
		case common.EventWarn:
			l.Warn("engine: %s", formatEventArgs(args))
		case common.EventReady, common.EventClosing, common.EventClose,
			common.EventCompactStart, common.EventCompactEnd,
			common.EventCheckpointStart, common.EventCheckpointEnd,
			common.EventWALReplayed, common.EventClear, common.EventLog:
			l.Info("engine %s %s", event, formatEventArgs(args))
		case common.EventSet, common.EventGet:
			// args carry (key, value); drop the value.
			key := ""
			if len(args) > 0 {
				key = fmt.Sprint(args[0])
			}
			l.Debug("engine %s %s", event, key)
		default:
			l.Debug("engine %s %s", event, formatEventArgs(args))
		}
	})
}

func formatEventArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprint(arg)
	}
	return strings.Join(parts, " ")
}
