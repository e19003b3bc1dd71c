package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/serisow/docapture/agent"
)

// SSEHandler streams a run's lifecycle events over Server-Sent Events. A
// subscriber connecting mid-run first receives a synthetic
// connection_established event, then the run's buffered history, then live
// events until the terminal event closes the stream.
type SSEHandler struct {
	auth       Authenticator
	broker     *agent.EventBroker
	logger     *slog.Logger
	graceDelay time.Duration
}

func NewSSEHandler(auth Authenticator, broker *agent.EventBroker, logger *slog.Logger, graceDelay time.Duration) *SSEHandler {
	return &SSEHandler{
		auth:       auth,
		broker:     broker,
		logger:     logger,
		graceDelay: graceDelay,
	}
}

func (h *SSEHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	runID := r.URL.Query().Get("runId")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "runId query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := h.broker.Subscribe(runID)
	defer cancel()

	if err := writeSSEFrame(w, agent.ConnectionEstablished(runID)); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case event, open := <-events:
			if !open {
				// Terminal event delivered; give the client a moment to
				// read the tail of the stream before closing.
				time.Sleep(h.graceDelay)
				return
			}
			if err := writeSSEFrame(w, event); err != nil {
				h.logger.Debug("SSE write failed, closing stream",
					slog.String("run_id", runID),
					slog.String("error", err.Error()))
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, event agent.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
