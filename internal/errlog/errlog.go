// Package errlog implements the bounded error-record ring buffer and
// optional JSON-per-file persistence described in spec §4.8, observed by
// every other component in the core (dependency order: "... -> error
// logger (observes all)").
package errlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Logger is a bounded ring buffer of MemoryErrorRecords with optional
// JSON-per-file persistence under LogDir.
type Logger struct {
	mu       sync.Mutex
	capacity int
	logDir   string
	records  []core.MemoryErrorRecord
	next     int
	full     bool
}

// New builds a Logger with the given ring-buffer capacity and optional
// on-disk log directory (empty disables file persistence, matching
// config.NoFileLogging).
func New(capacity int, logDir string) *Logger {
	if capacity <= 0 {
		capacity = 100
	}
	return &Logger{capacity: capacity, logDir: logDir, records: make([]core.MemoryErrorRecord, capacity)}
}

// Record appends a normalized error entry, evicting the oldest entry once
// the ring buffer is full, and (if a log directory is configured) appends
// it as one JSON file per record.
func (l *Logger) Record(rec core.MemoryErrorRecord) {
	l.mu.Lock()
	l.records[l.next] = rec
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	if l.logDir == "" {
		return
	}
	l.writeToDisk(rec)
}

func (l *Logger) writeToDisk(rec core.MemoryErrorRecord) {
	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("%s-%s.json", rec.Timestamp.UTC().Format("20060102T150405.000000000"), sanitize(rec.Operation))
	path := filepath.Join(l.logDir, name)
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "op"
	}
	return string(out)
}

// LogError builds a MemoryErrorRecord from a CoreError (or any error) and
// records it, the common entry point adapters call before an error escapes.
func (l *Logger) LogError(operation, adapter string, err error, context map[string]any) {
	errorType := "error"
	if ce, ok := err.(*core.CoreError); ok {
		errorType = ce.Code
	}
	l.Record(core.MemoryErrorRecord{
		Timestamp: time.Now(),
		Operation: operation,
		Adapter:   adapter,
		ErrorType: errorType,
		Message:   err.Error(),
		Context:   context,
	})
}

// snapshot returns every currently held record in chronological order.
func (l *Logger) snapshot() []core.MemoryErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.MemoryErrorRecord
	if l.full {
		out = append(out, l.records[l.next:]...)
	}
	out = append(out, l.records[:l.next]...)
	return out
}

// RecentFilter narrows GetRecentErrors to a subset of fields; zero values
// are unfiltered.
type RecentFilter struct {
	Operation string
	Adapter   string
	ErrorType string
	Limit     int
}

// GetRecentErrors returns records matching filter, most recent first,
// capped at filter.Limit (0 = unlimited).
func (l *Logger) GetRecentErrors(filter RecentFilter) []core.MemoryErrorRecord {
	all := l.snapshot()
	var out []core.MemoryErrorRecord
	for i := len(all) - 1; i >= 0; i-- {
		rec := all[i]
		if filter.Operation != "" && rec.Operation != filter.Operation {
			continue
		}
		if filter.Adapter != "" && rec.Adapter != filter.Adapter {
			continue
		}
		if filter.ErrorType != "" && rec.ErrorType != filter.ErrorType {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Summary is the aggregate shape returned by GetErrorSummary.
type Summary struct {
	Total      int
	ByAdapter  map[string]int
	ByOperation map[string]int
	ByErrorType map[string]int
}

// GetErrorSummary returns counts by adapter, operation, and error type
// across every record currently held.
func (l *Logger) GetErrorSummary() Summary {
	all := l.snapshot()
	s := Summary{ByAdapter: map[string]int{}, ByOperation: map[string]int{}, ByErrorType: map[string]int{}}
	for _, rec := range all {
		s.Total++
		s.ByAdapter[rec.Adapter]++
		s.ByOperation[rec.Operation]++
		s.ByErrorType[rec.ErrorType]++
	}
	return s
}
