// Package audit records a structured, append-only trail of operation and
// sync activity, narrowed from the teacher's pkg/audit down to the two
// event families this module actually produces: local operation commits
// and sync round-trips against a server. The compliance-framework event
// taxonomy (GDPR erasure, consent, auth) has no counterpart in a task
// replica, so this package keeps only the JSON-lines writer, the
// thread-safe Log method, and the fsync-on-write option.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType categorizes an audit entry.
type EventType string

const (
	// EventOperation fires once per operation committed to the local log
	// (op.Create, op.Update, op.Delete, op.UndoPoint).
	EventOperation EventType = "OPERATION"

	// EventSyncPush fires once per Sync call after local operations are
	// pushed to the server (zero or more versions added).
	EventSyncPush EventType = "SYNC_PUSH"

	// EventSyncFetch fires once per Sync call after remote versions are
	// fetched and applied locally.
	EventSyncFetch EventType = "SYNC_FETCH"

	// EventExpire fires once per ExpireTasks call, recording how many
	// tasks were permanently removed.
	EventExpire EventType = "EXPIRE"
)

// Event is one immutable audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	ClientID string `json:"client_id,omitempty"`
	TaskUUID string `json:"task_uuid,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Count    int    `json:"count,omitempty"`
	Success  bool   `json:"success"`
	Reason   string `json:"reason,omitempty"`
}

// Config controls a Logger's durability and destination.
type Config struct {
	// Enabled gates whether Log does anything; a disabled logger is a
	// cheap no-op rather than a nil check at every call site.
	Enabled bool

	// LogPath is the file Log appends JSON lines to. Ignored when the
	// Logger was built with NewLoggerWithWriter.
	LogPath string

	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// DefaultConfig returns a disabled logger config; callers opt in by
// setting Enabled and LogPath explicitly.
func DefaultConfig() Config {
	return Config{Enabled: false, LogPath: "./audit.log"}
}

// Logger appends Events as newline-delimited JSON.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger opens (creating if necessary) the file at config.LogPath in
// append mode. A disabled config returns a Logger whose Log calls are
// no-ops, without touching the filesystem.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("audit: creating log directory: %w", err)
		}
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log file: %w", err)
	}

	return &Logger{writer: file, file: file, config: config}, nil
}

// NewLoggerWithWriter builds an always-enabled Logger writing to an
// arbitrary io.Writer, for tests and for callers that already manage
// their own log destination (e.g. wiring to a structured logger).
func NewLoggerWithWriter(writer io.Writer) *Logger {
	return &Logger{writer: writer, config: Config{Enabled: true}}
}

// Log appends event, filling in Timestamp and ID if unset.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: logger is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshaling event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: writing event: %w", err)
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("audit: syncing log: %w", err)
		}
	}
	return nil
}

// LogOperation is a convenience wrapper for EventOperation entries.
func (l *Logger) LogOperation(clientID, taskUUID, detail string) error {
	return l.Log(Event{Type: EventOperation, ClientID: clientID, TaskUUID: taskUUID, Detail: detail, Success: true})
}

// LogSync is a convenience wrapper for EventSyncPush/EventSyncFetch entries.
func (l *Logger) LogSync(eventType EventType, clientID string, count int, success bool, reason string) error {
	return l.Log(Event{Type: eventType, ClientID: clientID, Count: count, Success: success, Reason: reason})
}

// LogExpire is a convenience wrapper for EventExpire entries.
func (l *Logger) LogExpire(clientID string, removed int) error {
	return l.Log(Event{Type: EventExpire, ClientID: clientID, Count: removed, Success: true})
}

// Close releases the underlying file, if any. Safe to call on a disabled
// or writer-backed Logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
