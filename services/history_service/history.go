package history_service

import (
	"context"
	"log/slog"
	"sync"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is one processing-history record. Exactly one entry is recorded per
// processing request regardless of outcome, including requests rejected
// before a run started.
type Entry struct {
	UserID     string      `json:"userId"`
	ServiceID  string      `json:"serviceId"`
	FileName   string      `json:"fileName"`
	Status     string      `json:"status"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
}

// Recorder is the processing-history collaborator contract. Durability is
// the collaborator's concern, not this service's.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// LogRecorder writes history entries to the structured log. It is the
// default stand-in when no history backend is wired.
type LogRecorder struct {
	logger *slog.Logger
}

func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, entry Entry) {
	r.logger.Info("Processing history record",
		slog.String("user_id", entry.UserID),
		slog.String("service_id", entry.ServiceID),
		slog.String("file_name", entry.FileName),
		slog.String("status", entry.Status),
		slog.String("error", entry.Error),
		slog.Int64("duration_ms", entry.DurationMs))
}

// MockRecorder captures entries for assertions in tests.
type MockRecorder struct {
	mu      sync.Mutex
	Entries []Entry
}

func (m *MockRecorder) Record(ctx context.Context, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entry)
}

func (m *MockRecorder) Recorded() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.Entries...)
}
