package logging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errLogClosed = errors.New("log file closed")

// LocalLogWriter appends forwarding events to a local file with size based
// rotation.
type LocalLogWriter struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	maxSize  int64
	maxFiles int
	written  int64
	now      func() time.Time

	// Filtering (same as SyslogClient)
	MinSeverity int
	Filter      EventFilter
}

// LocalLogConfig configures a LocalLogWriter.
type LocalLogConfig struct {
	Path     string // log file path (default: /var/log/bbrd/events.log)
	MaxSize  int64  // max file size in bytes (default: 10MB)
	MaxFiles int    // number of rotated files to keep (default: 5)
}

// NewLocalLogWriter creates a local file log writer.
func NewLocalLogWriter(cfg LocalLogConfig) (*LocalLogWriter, error) {
	path := cfg.Path
	if path == "" {
		path = "/var/log/bbrd/events.log"
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024 // 10MB
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 5
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	lw := &LocalLogWriter{
		file:     f,
		path:     path,
		maxSize:  maxSize,
		maxFiles: maxFiles,
		now:      time.Now,
	}
	if info, err := f.Stat(); err == nil {
		lw.written = info.Size()
	}
	return lw, nil
}

// Send writes a log message to the local file. It matches
// SyslogClient.Send so either can receive the same reports.
func (lw *LocalLogWriter) Send(severity int, msg string) error {
	return lw.write(lw.now(), severity, msg)
}

// WriteEvent logs rec if it passes the severity and event filters.
func (lw *LocalLogWriter) WriteEvent(rec EventRecord) error {
	severity := EventSeverity(rec)
	if !lw.ShouldSendEvent(severity, &rec) {
		return nil
	}
	ts := rec.Time
	if ts.IsZero() {
		ts = lw.now()
	}
	return lw.write(ts, severity, rec.Message())
}

func (lw *LocalLogWriter) write(ts time.Time, severity int, msg string) error {
	line := fmt.Sprintf("%s [%s] %s\n", ts.Format("2006-01-02T15:04:05.000"), severityTag(severity), msg)

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.file == nil {
		return errLogClosed
	}

	n, err := lw.file.WriteString(line)
	if err != nil {
		return err
	}
	lw.written += int64(n)

	if lw.written >= lw.maxSize {
		lw.rotate()
	}
	return nil
}

// ShouldSendEvent returns true if both the severity and event filters pass.
func (lw *LocalLogWriter) ShouldSendEvent(severity int, rec *EventRecord) bool {
	if lw.MinSeverity != 0 && severity > lw.MinSeverity {
		return false
	}
	return lw.Filter.Matches(rec)
}

// EventSeverity is the syslog severity an event is logged at.
func EventSeverity(rec EventRecord) int {
	switch rec.Type {
	case EventRoleChange, EventForwarding:
		return SyslogNotice
	case EventRouteAdd, EventRouteUnblock, EventListenerAdd, EventListenerRemove:
		return SyslogInfo
	default:
		return SyslogDebug
	}
}

// Close closes the log file.
func (lw *LocalLogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.file != nil {
		err := lw.file.Close()
		lw.file = nil
		return err
	}
	return nil
}

func (lw *LocalLogWriter) rotate() {
	lw.file.Close()
	lw.file = nil

	for i := lw.maxFiles - 1; i > 0; i-- {
		old := fmt.Sprintf("%s.%d", lw.path, i)
		next := fmt.Sprintf("%s.%d", lw.path, i+1)
		os.Rename(old, next)
	}
	os.Rename(lw.path, lw.path+".1")
	os.Remove(fmt.Sprintf("%s.%d", lw.path, lw.maxFiles+1))

	f, err := os.OpenFile(lw.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		slog.Warn("failed to open rotated local log file", "err", err)
		return
	}
	lw.file = f
	lw.written = 0
}

func severityTag(severity int) string {
	switch severity {
	case SyslogError:
		return "ERROR"
	case SyslogWarning:
		return "WARNING"
	case SyslogNotice:
		return "NOTICE"
	case SyslogDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}
