package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one end-to-end execution of an agent operation. Status moves
// idle -> running -> {completed, failed} and never backwards; exactly one of
// Result or ErrorMessage is set once the run is terminal.
type Run struct {
	RunID        string      `json:"run_id"`
	AgentType    string      `json:"agent_type"`
	Status       Status      `json:"status"`
	StartTime    int64       `json:"start_time,omitempty"`
	EndTime      int64       `json:"end_time,omitempty"`
	Result       interface{} `json:"result,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CompletedAt  string      `json:"completed_at,omitempty"`
}

// NewRunID returns a process-unique run identifier.
func NewRunID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	return fmt.Sprintf("run_%d_%s", timeProvider.Now().UnixMilli(), random)
}

// Operation is one unit of agent work (field extraction, summarization,
// document creation). Implementations call Progress at meaningful milestones
// and either return a result or an error; they never emit lifecycle events
// themselves.
type Operation interface {
	Name() string
	Execute(ctx context.Context, run *RunContext) (interface{}, error)
}

// RunContext is handed to an Operation for the duration of one run.
type RunContext struct {
	runID     string
	startTime int64
	sink      EventSink
}

func (rc *RunContext) RunID() string { return rc.runID }

// Elapsed returns the wall-clock time since the run started.
func (rc *RunContext) Elapsed() time.Duration {
	return time.Duration(timeProvider.Now().UnixMilli()-rc.startTime) * time.Millisecond
}

// Progress emits a progress event. Percent is 0-100 and monotonic by
// convention; ordering beyond emission order is not enforced here.
func (rc *RunContext) Progress(percent int, message string) {
	rc.sink.Emit(newEvent(EventProgress, rc.runID, map[string]interface{}{
		"progress": percent,
		"message":  message,
	}))
}

// Runner drives operations through the run lifecycle. It is the single point
// where operation errors and panics become protocol events: no stage upstream
// needs to know about event emission.
type Runner struct {
	store  *RunStore
	sink   EventSink
	logger *slog.Logger
}

func NewRunner(store *RunStore, sink EventSink, logger *slog.Logger) *Runner {
	return &Runner{
		store:  store,
		sink:   sink,
		logger: logger,
	}
}

// Execute runs op under a fresh (or caller-supplied) run identifier and
// returns the operation result. Events observed by any subscriber are exactly
// run_started, the operation's progress events, then one terminal event.
func (r *Runner) Execute(ctx context.Context, runID string, op Operation) (result interface{}, err error) {
	if runID == "" {
		runID = NewRunID()
	}

	start := timeProvider.Now()
	run := &Run{
		RunID:     runID,
		AgentType: op.Name(),
		Status:    StatusRunning,
		StartTime: start.UnixMilli(),
	}
	r.store.Add(run)

	r.sink.Emit(newEvent(EventRunStarted, runID, map[string]interface{}{
		"runId":     runID,
		"startTime": run.StartTime,
	}))

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s operation panicked: %v", op.Name(), rec)
			result = nil
			r.logger.Error("Recovered panic in agent operation",
				slog.String("run_id", runID),
				slog.String("agent_type", op.Name()),
				slog.Any("panic", rec))
			r.fail(runID, err.Error())
		}
	}()

	rc := &RunContext{runID: runID, startTime: run.StartTime, sink: r.sink}

	result, err = op.Execute(ctx, rc)
	if err != nil {
		r.logger.Error("Agent run failed",
			slog.String("run_id", runID),
			slog.String("agent_type", op.Name()),
			slog.String("error", err.Error()))
		r.fail(runID, err.Error())
		return nil, err
	}

	r.finish(runID, result)
	return result, nil
}

func (r *Runner) finish(runID string, result interface{}) {
	run, ok := r.store.markTerminal(runID, StatusCompleted, result, "")
	if !ok {
		r.logger.Warn("Ignoring finish on terminal run", slog.String("run_id", runID))
		return
	}
	r.sink.Emit(newEvent(EventRunFinished, runID, map[string]interface{}{
		"runId":    runID,
		"result":   result,
		"duration": run.EndTime - run.StartTime,
	}))
}

func (r *Runner) fail(runID, message string) {
	run, ok := r.store.markTerminal(runID, StatusFailed, nil, message)
	if !ok {
		r.logger.Warn("Ignoring fail on terminal run", slog.String("run_id", runID))
		return
	}
	r.sink.Emit(newEvent(EventRunError, runID, map[string]interface{}{
		"runId":    runID,
		"error":    message,
		"duration": run.EndTime - run.StartTime,
	}))
}
