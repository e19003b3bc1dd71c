package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/serisow/docapture/agent"
)

// RunHandler answers status queries for a single run.
type RunHandler struct {
	auth  Authenticator
	store *agent.RunStore
}

func NewRunHandler(auth Authenticator, store *agent.RunStore) *RunHandler {
	return &RunHandler{auth: auth, store: store}
}

func (h *RunHandler) GetRunStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.auth.Authenticate(r); !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	runID := mux.Vars(r)["runId"]
	run, found := h.store.Get(runID)
	if !found {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
