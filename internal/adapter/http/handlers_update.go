package http

import (
	"net/http"

	"github.com/skarsol/convoy/internal/domain/update"
)

func (h *Handlers) listUpdates(w http.ResponseWriter, r *http.Request) {
	updates, err := h.updates.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "updates not found")
		return
	}
	writeJSON(w, http.StatusOK, updates)
}

func (h *Handlers) getUpdate(w http.ResponseWriter, r *http.Request) {
	u, err := h.updates.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "update not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handlers) createUpdate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[update.CreateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.updates.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "update not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *Handlers) deleteUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.updates.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "update not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) startAgents(w http.ResponseWriter, r *http.Request) {
	started, err := h.updates.StartAgents(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "update not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"started": started,
		"count":   len(started),
	})
}

func (h *Handlers) listUpdateRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListByUpdate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "update not found")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
