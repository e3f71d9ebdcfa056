package workflow

import (
	"context"
	"time"
)

// LogWriter persists a run's log batch.
type LogWriter interface {
	InsertLogs(ctx context.Context, executionID string, entries []LogEntry) error
}

// LogBuffer collects log entries in memory during a run. They are written in
// one batch when the run finishes.
type LogBuffer struct {
	entries []LogEntry
	now     func() time.Time
}

// NewLogBuffer returns an empty buffer using now for timestamps.
func NewLogBuffer(now func() time.Time) *LogBuffer {
	if now == nil {
		now = time.Now
	}
	return &LogBuffer{now: now}
}

// Add appends an entry.
func (b *LogBuffer) Add(level LogLevel, message string, data map[string]any, nodeID string) {
	if data == nil {
		data = map[string]any{}
	}
	b.entries = append(b.entries, LogEntry{
		Level:     level,
		Message:   message,
		Data:      data,
		NodeID:    nodeID,
		Timestamp: b.now().UTC(),
	})
}

func (b *LogBuffer) Info(message string, data map[string]any, nodeID string) {
	b.Add(LevelInfo, message, data, nodeID)
}

func (b *LogBuffer) Warn(message string, data map[string]any, nodeID string) {
	b.Add(LevelWarn, message, data, nodeID)
}

func (b *LogBuffer) Error(message string, data map[string]any, nodeID string) {
	b.Add(LevelError, message, data, nodeID)
}

// Entries returns a copy of the buffered entries in insertion order.
func (b *LogBuffer) Entries() []LogEntry {
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int { return len(b.entries) }

// Flush writes every buffered entry with a single InsertLogs call.
func (b *LogBuffer) Flush(ctx context.Context, w LogWriter, executionID string) error {
	return w.InsertLogs(ctx, executionID, b.Entries())
}
