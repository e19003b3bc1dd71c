package agent

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// replayBufferSize bounds the per-run event history kept for subscribers
	// that connect after the run has started.
	replayBufferSize = 256
	// subscriberBuffer is the channel capacity granted to each live
	// subscriber on top of the replayed history.
	subscriberBuffer = 64
)

type subscriber struct {
	ch        chan Event
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

type runStream struct {
	history  []Event
	subs     map[int]*subscriber
	nextID   int
	closed   bool
	closedAt time.Time
}

// EventBroker fans lifecycle events out to stream subscribers keyed by run
// identifier. Events reach every registered subscriber in emission order, and
// a bounded history is replayed to subscribers that connect mid-run. The
// broker implements EventSink so it can be injected into a Runner directly.
type EventBroker struct {
	mu      sync.Mutex
	streams map[string]*runStream
	logger  *slog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

func NewEventBroker(logger *slog.Logger) *EventBroker {
	return &EventBroker{
		streams: make(map[string]*runStream),
		logger:  logger,
	}
}

func (b *EventBroker) Emit(event Event) {
	b.Publish(event)
}

// Publish appends the event to the run's history and delivers it to every
// current subscriber. After a terminal event the subscriber channels are
// closed; the history survives until cleanup so late subscribers still see
// the full sequence.
func (b *EventBroker) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.stream(event.RunID)
	if rs.closed {
		b.logger.Warn("Dropping event published after terminal event",
			slog.String("run_id", event.RunID),
			slog.String("type", event.Type))
		return
	}
	if len(rs.history) < replayBufferSize {
		rs.history = append(rs.history, event)
	}

	for _, sub := range rs.subs {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer. Dropping beats blocking the run.
			b.logger.Warn("Subscriber buffer full, dropping event",
				slog.String("run_id", event.RunID),
				slog.String("type", event.Type))
		}
	}

	if event.IsTerminal() {
		rs.closed = true
		rs.closedAt = timeProvider.Now()
		for _, sub := range rs.subs {
			sub.close()
		}
		rs.subs = make(map[int]*subscriber)
	}
}

// Subscribe attaches a new sink to the run's event stream. Any buffered
// history is replayed first, in order. The returned cancel func releases the
// subscription's resources without affecting the run; it is safe to call
// after the channel has been closed by a terminal event.
func (b *EventBroker) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs := b.stream(runID)
	sub := &subscriber{ch: make(chan Event, len(rs.history)+subscriberBuffer)}
	for _, event := range rs.history {
		sub.ch <- event
	}

	if rs.closed {
		sub.close()
		return sub.ch, func() {}
	}

	id := rs.nextID
	rs.nextID++
	rs.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := rs.subs[id]; ok && current == sub {
			delete(rs.subs, id)
			sub.close()
		}
	}
	return sub.ch, cancel
}

// must be called with b.mu held
func (b *EventBroker) stream(runID string) *runStream {
	rs, exists := b.streams[runID]
	if !exists {
		rs = &runStream{subs: make(map[int]*subscriber)}
		b.streams[runID] = rs
	}
	return rs
}

// StartCleanup periodically drops the histories of runs that terminated more
// than retention ago.
func (b *EventBroker) StartCleanup(retention, cleanupInterval time.Duration) {
	b.stopCleanup = make(chan struct{})
	b.cleanupTicker = time.NewTicker(cleanupInterval)

	go func() {
		for {
			select {
			case <-b.cleanupTicker.C:
				b.performCleanup(retention)
			case <-b.stopCleanup:
				b.cleanupTicker.Stop()
				return
			}
		}
	}()
}

func (b *EventBroker) StopCleanup() {
	if b.stopCleanup != nil {
		close(b.stopCleanup)
	}
}

func (b *EventBroker) performCleanup(retention time.Duration) {
	now := timeProvider.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	for runID, rs := range b.streams {
		if rs.closed && now.Sub(rs.closedAt) > retention {
			delete(b.streams, runID)
		}
	}
}

// ConnectionEstablished builds the synthetic event sent to each new stream
// subscriber before any replayed history.
func ConnectionEstablished(runID string) Event {
	return newEvent(EventConnectionEstablished, runID, nil)
}
