package http

import (
	"net/http"

	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/service"
)

func (h *Handlers) getRun(w http.ResponseWriter, r *http.Request) {
	rn, err := h.runs.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (h *Handlers) getRunConversation(w http.ResponseWriter, r *http.Request) {
	messages, err := h.runs.Conversation(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type followupRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) followupRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[followupRequest](w, r)
	if !ok {
		return
	}
	msg, err := h.runs.Followup(r.Context(), urlParam(r, "id"), req.Text)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

func (h *Handlers) stopRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.Stop(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handlers) syncRun(w http.ResponseWriter, r *http.Request) {
	rn, err := h.runs.Sync(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (h *Handlers) getRunPRDetails(w http.ResponseWriter, r *http.Request) {
	details, err := h.runs.PRDetails(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type actionRequest struct {
	Action string `json:"action"`
}

func (h *Handlers) applyRunAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[actionRequest](w, r)
	if !ok {
		return
	}
	action, err := run.ParseAction(req.Action)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	rn, err := h.runs.ApplyAction(r.Context(), urlParam(r, "id"), action)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (h *Handlers) patchRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.PatchRequest](w, r)
	if !ok {
		return
	}
	rn, err := h.runs.Patch(r.Context(), urlParam(r, "id"), &req)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rn)
}
