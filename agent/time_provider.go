package agent

import "time"

type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time {
	return time.Now()
}

// timeProvider is swapped out by tests that need to control the clock.
var timeProvider TimeProvider = &realTimeProvider{}
