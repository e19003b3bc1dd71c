package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/serisow/docapture/agent"
)

func sseRequest(runID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/agui-sse?runId="+runID, nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	return req
}

func newSSEFixture() (*SSEHandler, *agent.EventBroker) {
	logger := testLogger()
	broker := agent.NewEventBroker(logger)
	auth := NewAPIKeyAuthenticator(map[string]string{"secret-token": "user-1"})
	return NewSSEHandler(auth, broker, logger, 0), broker
}

func decodeFrames(t *testing.T, body string) []agent.Event {
	t.Helper()
	var events []agent.Event
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		payload, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			t.Fatalf("malformed SSE frame: %q", frame)
		}
		var event agent.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("frame payload is not an event: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func TestStreamEventsRequiresAuth(t *testing.T) {
	handler, _ := newSSEFixture()

	req := httptest.NewRequest(http.MethodGet, "/agui-sse?runId=run_1", nil)
	rec := httptest.NewRecorder()
	handler.StreamEvents(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestStreamEventsRequiresRunID(t *testing.T) {
	handler, _ := newSSEFixture()

	req := httptest.NewRequest(http.MethodGet, "/agui-sse", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	handler.StreamEvents(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

// A subscriber connecting after the run finished receives the synthetic
// connection event followed by the complete replayed lifecycle, in order.
func TestStreamEventsReplaysCompletedRun(t *testing.T) {
	handler, broker := newSSEFixture()

	runID := "run_9_replaytest"
	broker.Emit(agent.Event{Type: agent.EventRunStarted, RunID: runID})
	broker.Emit(agent.Event{Type: agent.EventProgress, RunID: runID, Data: map[string]interface{}{"progress": 50}})
	broker.Emit(agent.Event{Type: agent.EventRunFinished, RunID: runID})

	rec := httptest.NewRecorder()
	handler.StreamEvents(rec, sseRequest(runID))

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("got content type %q", got)
	}

	events := decodeFrames(t, rec.Body.String())
	want := []string{agent.EventConnectionEstablished, agent.EventRunStarted, agent.EventProgress, agent.EventRunFinished}
	if len(events) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(events), len(want), events)
	}
	for i, eventType := range want {
		if events[i].Type != eventType {
			t.Errorf("frame %d: got %s, want %s", i, events[i].Type, eventType)
		}
	}
	for _, event := range events {
		if event.RunID != runID {
			t.Errorf("frame carries run id %q, want %q", event.RunID, runID)
		}
	}
}

func TestStreamEventsLiveRunDrivenByRunner(t *testing.T) {
	handler, broker := newSSEFixture()

	logger := testLogger()
	store := agent.NewRunStore(logger)
	runner := agent.NewRunner(store, broker, logger)

	runID := "run_10_livetest"
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Execute(context.Background(), runID, &stubOperation{
			name: "document-summarizer",
			execute: func(ctx context.Context, run *agent.RunContext) (interface{}, error) {
				run.Progress(30, "working")
				return "summary", nil
			},
		})
	}()

	<-done
	rec := httptest.NewRecorder()
	handler.StreamEvents(rec, sseRequest(runID))

	events := decodeFrames(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("got %d frames, want 4: %+v", len(events), events)
	}
	if events[len(events)-1].Type != agent.EventRunFinished {
		t.Errorf("stream did not end with the terminal event: %+v", events)
	}
}
