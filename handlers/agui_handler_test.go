package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/serisow/docapture/agent"
	"github.com/serisow/docapture/agent_registry"
	"github.com/serisow/docapture/services/history_service"
	"github.com/serisow/docapture/services/subscription_service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOperation struct {
	name    string
	execute func(ctx context.Context, run *agent.RunContext) (interface{}, error)
}

func (op *stubOperation) Name() string { return op.name }

func (op *stubOperation) Execute(ctx context.Context, run *agent.RunContext) (interface{}, error) {
	return op.execute(ctx, run)
}

type fixture struct {
	handler       *AGUIHandler
	subscriptions *subscription_service.MockService
	history       *history_service.MockRecorder
	store         *agent.RunStore
	executed      *int
}

func newFixture(opResult interface{}, opErr error) *fixture {
	logger := testLogger()
	executed := 0

	registry := agent_registry.NewAgentRegistry()
	registry.RegisterOperation("field-extractor", func(input agent_registry.OperationInput) (agent.Operation, error) {
		return &stubOperation{
			name: "field-extractor",
			execute: func(ctx context.Context, run *agent.RunContext) (interface{}, error) {
				executed++
				run.Progress(50, "halfway")
				return opResult, opErr
			},
		}, nil
	})

	store := agent.NewRunStore(logger)
	broker := agent.NewEventBroker(logger)
	runner := agent.NewRunner(store, broker, logger)
	subscriptions := &subscription_service.MockService{}
	history := &history_service.MockRecorder{}

	auth := NewAPIKeyAuthenticator(map[string]string{"secret-token": "user-1"})
	handler := NewAGUIHandler(auth, registry, runner, broker, store, subscriptions, history, logger, 10<<20)

	return &fixture{
		handler:       handler,
		subscriptions: subscriptions,
		history:       history,
		store:         store,
		executed:      &executed,
	}
}

func multipartRequest(t *testing.T, agentType string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("document", "invoice.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("INVOICE #1 Total: $10"))

	for key, value := range fields {
		w.WriteField(key, value)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/agui/"+agentType, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req = mux.SetURLVars(req, map[string]string{"agentType": agentType})
	return req
}

func authorize(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer secret-token")
	return req
}

func TestExecuteAgentRejectsMissingToken(t *testing.T) {
	f := newFixture(nil, nil)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, multipartRequest(t, "field-extractor", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
	if *f.executed != 0 {
		t.Error("operation ran for an unauthenticated request")
	}
	if len(f.history.Recorded()) != 0 {
		t.Error("history recorded for an unauthenticated request")
	}
}

func TestExecuteAgentRejectsWrongToken(t *testing.T) {
	f := newFixture(nil, nil)

	req := multipartRequest(t, "field-extractor", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", rec.Code)
	}
}

func TestExecuteAgentUnknownAgentType(t *testing.T) {
	f := newFixture(nil, nil)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "nonexistent-agent", nil)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

// An exhausted quota must reject before any run starts, leave exactly one
// failed history record, and never increment usage.
func TestExecuteAgentQuotaExhausted(t *testing.T) {
	f := newFixture(nil, nil)
	f.subscriptions.CanProcessFunc = func(userID string) (bool, string) {
		return false, "You've reached your limit of 5 documents for this period."
	}

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "field-extractor", nil)))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want 403", rec.Code)
	}
	if *f.executed != 0 {
		t.Error("run started despite exhausted quota")
	}

	entries := f.history.Recorded()
	if len(entries) != 1 {
		t.Fatalf("got %d history entries, want exactly 1", len(entries))
	}
	if entries[0].Status != history_service.StatusFailed {
		t.Errorf("got history status %s, want failed", entries[0].Status)
	}
	if len(f.subscriptions.Increments) != 0 {
		t.Error("usage incremented for a rejected request")
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("error body missing quota reason")
	}
}

func TestExecuteAgentHappyPath(t *testing.T) {
	f := newFixture(map[string]interface{}{"extracted": map[string]interface{}{"total": "10"}}, nil)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "field-extractor", map[string]string{
		"requiredFields": `["total"]`,
	})))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Result interface{}   `json:"result"`
			Logs   []agent.Event `json:"logs"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("malformed response body: %v", err)
	}
	if !body.Success {
		t.Error("success flag not set")
	}
	if body.Data.Result == nil {
		t.Error("result missing from response")
	}

	// Logs carry the full lifecycle in emission order.
	if len(body.Data.Logs) < 3 {
		t.Fatalf("got %d log events, want at least 3", len(body.Data.Logs))
	}
	if body.Data.Logs[0].Type != agent.EventRunStarted {
		t.Errorf("first log event is %s, want run_started", body.Data.Logs[0].Type)
	}
	if last := body.Data.Logs[len(body.Data.Logs)-1]; last.Type != agent.EventRunFinished {
		t.Errorf("last log event is %s, want run_finished", last.Type)
	}

	if len(f.subscriptions.Increments) != 1 || f.subscriptions.Increments[0] != "user-1" {
		t.Errorf("usage increments %v, want exactly one for user-1", f.subscriptions.Increments)
	}

	entries := f.history.Recorded()
	if len(entries) != 1 {
		t.Fatalf("got %d history entries, want exactly 1", len(entries))
	}
	if entries[0].Status != history_service.StatusCompleted {
		t.Errorf("got history status %s, want completed", entries[0].Status)
	}
	if entries[0].FileName != "invoice.png" {
		t.Errorf("got history file name %q", entries[0].FileName)
	}
}

func TestExecuteAgentRunFailure(t *testing.T) {
	f := newFixture(nil, context.DeadlineExceeded)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "field-extractor", nil)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("got status %d, want 500", rec.Code)
	}
	if len(f.subscriptions.Increments) != 0 {
		t.Error("usage incremented for a failed run")
	}

	entries := f.history.Recorded()
	if len(entries) != 1 || entries[0].Status != history_service.StatusFailed {
		t.Fatalf("want exactly one failed history entry, got %+v", entries)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] != context.DeadlineExceeded.Error() {
		t.Errorf("HTTP error %q does not match run error", body["error"])
	}
}

func TestExecuteAgentInvalidRequiredFields(t *testing.T) {
	f := newFixture(nil, nil)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "field-extractor", map[string]string{
		"requiredFields": "not-a-json-array",
	})))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
	if *f.executed != 0 {
		t.Error("operation ran with malformed input")
	}
}

func TestExecuteAgentClientSuppliedRunID(t *testing.T) {
	f := newFixture("ok", nil)

	rec := httptest.NewRecorder()
	f.handler.ExecuteAgent(rec, authorize(multipartRequest(t, "field-extractor", map[string]string{
		"runId": "run_42_clientchosen",
	})))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	run, found := f.store.Get("run_42_clientchosen")
	if !found {
		t.Fatal("client-supplied run id not used")
	}
	if run.Status != agent.StatusCompleted {
		t.Errorf("got status %s, want completed", run.Status)
	}
}
