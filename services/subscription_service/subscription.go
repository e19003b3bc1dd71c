package subscription_service

import (
	"fmt"
	"sync"
	"time"
)

// Service is the quota contract consumed before and after each run. The
// hosted billing system owns the real numbers; implementations here only
// honor the contract: CanProcess is consulted before a run starts and
// IncrementUsage is called once per completed run.
type Service interface {
	CanProcess(userID string) (allowed bool, reason string)
	IncrementUsage(userID string) error
}

const (
	defaultTrialLimit  = 5
	defaultTrialPeriod = 30 * 24 * time.Hour
)

type usageWindow struct {
	used      int
	periodEnd time.Time
}

// InMemoryService grants every user a rolling trial allowance. It stands in
// for the billing collaborator in development and tests; the check-and-
// increment is a single guarded operation so concurrent requests from the
// same caller are never double-charged.
type InMemoryService struct {
	mu     sync.Mutex
	limit  int
	period time.Duration
	usage  map[string]*usageWindow
}

func NewInMemoryService(limit int, period time.Duration) *InMemoryService {
	if limit <= 0 {
		limit = defaultTrialLimit
	}
	if period <= 0 {
		period = defaultTrialPeriod
	}
	return &InMemoryService{
		limit:  limit,
		period: period,
		usage:  make(map[string]*usageWindow),
	}
}

func (s *InMemoryService) CanProcess(userID string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.window(userID)
	if window.used >= s.limit {
		return false, fmt.Sprintf("You've reached your limit of %d documents for this period.", s.limit)
	}
	return true, ""
}

func (s *InMemoryService) IncrementUsage(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window(userID).used++
	return nil
}

// must be called with s.mu held
func (s *InMemoryService) window(userID string) *usageWindow {
	now := time.Now()
	window, exists := s.usage[userID]
	if !exists || now.After(window.periodEnd) {
		window = &usageWindow{periodEnd: now.Add(s.period)}
		s.usage[userID] = window
	}
	return window
}

// MockService is a test double with function fields.
type MockService struct {
	CanProcessFunc     func(userID string) (bool, string)
	IncrementUsageFunc func(userID string) error
	Increments         []string
}

func (m *MockService) CanProcess(userID string) (bool, string) {
	if m.CanProcessFunc != nil {
		return m.CanProcessFunc(userID)
	}
	return true, ""
}

func (m *MockService) IncrementUsage(userID string) error {
	m.Increments = append(m.Increments, userID)
	if m.IncrementUsageFunc != nil {
		return m.IncrementUsageFunc(userID)
	}
	return nil
}
