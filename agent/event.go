package agent

// Event types carried over the AG-UI wire protocol. A run emits exactly one
// run_started, zero or more progress events, and exactly one terminal event
// (run_finished or run_error). connection_established is synthetic: it is
// sent to each new stream subscriber, never stored in a run's history.
const (
	EventRunStarted            = "run_started"
	EventProgress              = "progress"
	EventRunFinished           = "run_finished"
	EventRunError              = "run_error"
	EventConnectionEstablished = "connection_established"
)

type Event struct {
	Type      string                 `json:"type"`
	RunID     string                 `json:"runId"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives lifecycle events in emission order. The Runner calls
// Emit synchronously, so implementations must not block.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a plain function to the EventSink interface.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(event Event) { f(event) }

func newEvent(eventType, runID string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		RunID:     runID,
		Timestamp: timeProvider.Now().UnixMilli(),
		Data:      data,
	}
}

// IsTerminal reports whether the event ends its run's lifecycle.
func (e Event) IsTerminal() bool {
	return e.Type == EventRunFinished || e.Type == EventRunError
}
