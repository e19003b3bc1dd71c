package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/agent_registry"
	"github.com/serisow/docapture/agents"
	"github.com/serisow/docapture/services/history_service"
	"github.com/serisow/docapture/services/subscription_service"
)

// AGUIHandler serves POST /agui/{agentType}: it authenticates the caller,
// enforces the quota, parses the agent-specific input, and drives one
// synchronous run through the Runner. Exactly one history entry is recorded
// per request, whatever the outcome.
type AGUIHandler struct {
	auth           Authenticator
	registry       *agent_registry.AgentRegistry
	runner         *agent.Runner
	broker         *agent.EventBroker
	store          *agent.RunStore
	subscriptions  subscription_service.Service
	history        history_service.Recorder
	logger         *slog.Logger
	maxUploadBytes int64
}

func NewAGUIHandler(
	auth Authenticator,
	registry *agent_registry.AgentRegistry,
	runner *agent.Runner,
	broker *agent.EventBroker,
	store *agent.RunStore,
	subscriptions subscription_service.Service,
	history history_service.Recorder,
	logger *slog.Logger,
	maxUploadBytes int64,
) *AGUIHandler {
	return &AGUIHandler{
		auth:           auth,
		registry:       registry,
		runner:         runner,
		broker:         broker,
		store:          store,
		subscriptions:  subscriptions,
		history:        history,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *AGUIHandler) ExecuteAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.auth.Authenticate(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	agentType := mux.Vars(r)["agentType"]
	if !h.registry.HasOperation(agentType) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Agent %s not found", agentType))
		return
	}

	input, runID, err := h.parseInput(r, agentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if allowed, reason := h.subscriptions.CanProcess(userID); !allowed {
		h.history.Record(r.Context(), history_service.Entry{
			UserID:    userID,
			ServiceID: agentType,
			FileName:  input.FileName,
			Status:    history_service.StatusFailed,
			Error:     reason,
		})
		writeError(w, http.StatusForbidden, reason)
		return
	}

	op, err := h.registry.GetOperation(agentType, input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if runID == "" {
		runID = agent.NewRunID()
	}
	events, cancelSub := h.broker.Subscribe(runID)
	defer cancelSub()

	result, runErr := h.runner.Execute(r.Context(), runID, op)

	logs := drainEvents(events)

	entry := history_service.Entry{
		UserID:    userID,
		ServiceID: agentType,
		FileName:  input.FileName,
		Status:    history_service.StatusCompleted,
		Result:    result,
	}
	if runErr != nil {
		entry.Status = history_service.StatusFailed
		entry.Error = runErr.Error()
	}
	if run, found := h.store.Get(runID); found {
		entry.DurationMs = run.EndTime - run.StartTime
	}
	h.history.Record(r.Context(), entry)

	if runErr != nil {
		writeError(w, http.StatusInternalServerError, runErr.Error())
		return
	}

	if err := h.subscriptions.IncrementUsage(userID); err != nil {
		h.logger.Error("Failed to increment usage",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"result": result,
			"logs":   logs,
		},
	})
}

// parseInput decodes the agent-specific request payload. rfp-creator takes a
// JSON body; every other agent takes a multipart form with a document part.
func (h *AGUIHandler) parseInput(r *http.Request, agentType string) (agent_registry.OperationInput, string, error) {
	if agentType == "rfp-creator" {
		return h.parseRFPInput(r)
	}
	return h.parseMultipartInput(r)
}

func (h *AGUIHandler) parseRFPInput(r *http.Request) (agent_registry.OperationInput, string, error) {
	var body struct {
		agents.RFPCreationInput
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxUploadBytes)).Decode(&body); err != nil {
		return agent_registry.OperationInput{}, "", fmt.Errorf("invalid request body")
	}

	encoded, err := json.Marshal(body.RFPCreationInput)
	if err != nil {
		return agent_registry.OperationInput{}, "", fmt.Errorf("invalid request body")
	}
	input := agent_registry.OperationInput{
		RawJSON: encoded,
		Format:  body.Format,
	}
	return input, body.RunID, nil
}

func (h *AGUIHandler) parseMultipartInput(r *http.Request) (agent_registry.OperationInput, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return agent_registry.OperationInput{}, "", fmt.Errorf("invalid multipart form: %v", err)
	}

	file, header, err := r.FormFile("document")
	if err != nil {
		return agent_registry.OperationInput{}, "", fmt.Errorf("no document provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return agent_registry.OperationInput{}, "", fmt.Errorf("failed to read document: %v", err)
	}

	input := agent_registry.OperationInput{
		FileData: data,
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Prompt:   r.FormValue("prompt"),
		Format:   r.FormValue("format"),
	}

	if raw := r.FormValue("requiredFields"); raw != "" {
		var fields []string
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return agent_registry.OperationInput{}, "", fmt.Errorf("requiredFields must be a JSON array of strings")
		}
		input.RequiredFields = fields
	}

	return input, r.FormValue("runId"), nil
}

// drainEvents collects the run's event stream after the terminal event has
// closed the channel.
func drainEvents(events <-chan agent.Event) []agent.Event {
	logs := make([]agent.Event, 0, len(events))
	for event := range events {
		logs = append(logs, event)
	}
	return logs
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
