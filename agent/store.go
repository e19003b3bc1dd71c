package agent

import (
	"log/slog"
	"sync"
	"time"
)

// RunStore keeps run records in memory for the lifetime of the process.
// Durable history is the processing-history collaborator's job; entries here
// exist so status queries and late stream subscribers can be answered, and
// they expire after a retention window.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	logger        *slog.Logger
}

func NewRunStore(logger *slog.Logger) *RunStore {
	return &RunStore{
		runs:   make(map[string]*Run),
		logger: logger,
	}
}

func (s *RunStore) Add(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
}

// Get returns a snapshot of the run so callers never share the mutable record.
func (s *RunStore) Get(runID string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[runID]
	if !exists {
		return Run{}, false
	}
	return *run, true
}

// markTerminal applies the completed/failed transition exactly once. It
// returns the updated snapshot and false when the run is unknown or already
// terminal, which keeps status transitions monotonic.
func (s *RunStore) markTerminal(runID string, status Status, result interface{}, errMsg string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return Run{}, false
	}
	if run.Status == StatusCompleted || run.Status == StatusFailed {
		return *run, false
	}

	now := timeProvider.Now()
	run.Status = status
	run.EndTime = now.UnixMilli()
	run.Result = result
	run.ErrorMessage = errMsg
	run.CompletedAt = now.Format(time.RFC3339)
	return *run, true
}

// StartCleanup starts a goroutine that periodically drops runs whose terminal
// timestamp is older than the retention threshold.
func (s *RunStore) StartCleanup(retention, cleanupInterval time.Duration) {
	s.stopCleanup = make(chan struct{})
	s.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.performCleanup(retention)
			case <-s.stopCleanup:
				s.cleanupTicker.Stop()
				return
			}
		}
	}()
}

func (s *RunStore) StopCleanup() {
	if s.stopCleanup != nil {
		close(s.stopCleanup)
	}
}

func (s *RunStore) performCleanup(retention time.Duration) {
	now := timeProvider.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for runID, run := range s.runs {
		if run.CompletedAt == "" {
			continue
		}
		completedAt, err := time.Parse(time.RFC3339, run.CompletedAt)
		if err == nil && now.Sub(completedAt) > retention {
			delete(s.runs, runID)
			s.logger.Debug("Expired run record removed", slog.String("run_id", runID))
		}
	}
}
