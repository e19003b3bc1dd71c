package agent

import (
	"fmt"
	"testing"
	"time"
)

func publishSequence(b *EventBroker, runID string, progressCount int) {
	b.Publish(newEvent(EventRunStarted, runID, map[string]interface{}{"runId": runID}))
	for i := 0; i < progressCount; i++ {
		b.Publish(newEvent(EventProgress, runID, map[string]interface{}{
			"progress": (i + 1) * 10,
			"message":  fmt.Sprintf("step %d", i+1),
		}))
	}
	b.Publish(newEvent(EventRunFinished, runID, map[string]interface{}{"runId": runID}))
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for event := range ch {
		events = append(events, event)
	}
	return events
}

func TestBrokerDeliversInEmissionOrder(t *testing.T) {
	broker := NewEventBroker(testLogger())

	ch, cancel := broker.Subscribe("run_a")
	defer cancel()

	publishSequence(broker, "run_a", 3)

	events := collect(ch)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if events[0].Type != EventRunStarted {
		t.Errorf("first event is %s, want run_started", events[0].Type)
	}
	if events[len(events)-1].Type != EventRunFinished {
		t.Errorf("last event is %s, want run_finished", events[len(events)-1].Type)
	}
	for i := 1; i < 4; i++ {
		if got := events[i].Data["progress"]; got != i*10 {
			t.Errorf("progress event %d out of order: got %v, want %d", i, got, i*10)
		}
	}
}

func TestBrokerReplaysHistoryToLateSubscriber(t *testing.T) {
	broker := NewEventBroker(testLogger())

	publishSequence(broker, "run_b", 2)

	// Subscriber arrives after the run terminated; it still sees the full
	// sequence, then a closed channel.
	ch, cancel := broker.Subscribe("run_b")
	defer cancel()

	events := collect(ch)
	if len(events) != 4 {
		t.Fatalf("late subscriber got %d events, want 4", len(events))
	}
	if events[0].Type != EventRunStarted || events[3].Type != EventRunFinished {
		t.Errorf("replayed sequence malformed: %v", events)
	}
}

func TestBrokerMidRunSubscriberSeesHistoryThenLive(t *testing.T) {
	broker := NewEventBroker(testLogger())

	broker.Publish(newEvent(EventRunStarted, "run_c", nil))
	broker.Publish(newEvent(EventProgress, "run_c", map[string]interface{}{"progress": 20}))

	ch, cancel := broker.Subscribe("run_c")
	defer cancel()

	broker.Publish(newEvent(EventProgress, "run_c", map[string]interface{}{"progress": 80}))
	broker.Publish(newEvent(EventRunError, "run_c", map[string]interface{}{"error": "boom"}))

	events := collect(ch)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	want := []string{EventRunStarted, EventProgress, EventProgress, EventRunError}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got %v, want %v", types, want)
		}
	}
}

func TestBrokerCancelReleasesOnlyThatSubscriber(t *testing.T) {
	broker := NewEventBroker(testLogger())

	ch1, cancel1 := broker.Subscribe("run_d")
	ch2, cancel2 := broker.Subscribe("run_d")
	defer cancel2()

	broker.Publish(newEvent(EventRunStarted, "run_d", nil))
	cancel1()
	cancel1() // idempotent

	broker.Publish(newEvent(EventRunFinished, "run_d", nil))

	if events := collect(ch1); len(events) != 1 {
		t.Errorf("cancelled subscriber got %d events, want 1", len(events))
	}
	if events := collect(ch2); len(events) != 2 {
		t.Errorf("remaining subscriber got %d events, want 2", len(events))
	}
}

func TestBrokerDropsEventsAfterTerminal(t *testing.T) {
	broker := NewEventBroker(testLogger())

	publishSequence(broker, "run_e", 0)
	broker.Publish(newEvent(EventProgress, "run_e", map[string]interface{}{"progress": 99}))

	ch, cancel := broker.Subscribe("run_e")
	defer cancel()

	events := collect(ch)
	for _, event := range events {
		if event.Type == EventProgress {
			t.Errorf("post-terminal event leaked into history: %v", event)
		}
	}
}

func TestBrokerCleanupDropsExpiredStreams(t *testing.T) {
	mtp := &mockTimeProvider{currentTime: time.Now()}
	timeProvider = mtp
	defer func() { timeProvider = &realTimeProvider{} }()

	broker := NewEventBroker(testLogger())
	publishSequence(broker, "run_old", 1)

	mtp.Add(2 * time.Hour)
	publishSequence(broker, "run_recent", 1)

	broker.performCleanup(time.Hour)

	broker.mu.Lock()
	_, oldExists := broker.streams["run_old"]
	_, recentExists := broker.streams["run_recent"]
	broker.mu.Unlock()

	if oldExists {
		t.Error("expired stream survived cleanup")
	}
	if !recentExists {
		t.Error("recent stream was cleaned up prematurely")
	}
}
