package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/skarsol/convoy/internal/port/messagequeue"
)

// agentWebhookBody is the wire shape of a Cursor statusChange callback.
type agentWebhookBody struct {
	Event  string `json:"event"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Target struct {
		URL        string `json:"url"`
		BranchName string `json:"branchName"`
		PRURL      string `json:"prUrl"`
	} `json:"target"`
	Summary string `json:"summary"`
}

// agentWebhook accepts agent statusChange callbacks. The HMAC middleware has
// already verified the signature; here the payload is normalized and handed
// to the queue. The webhook is only a poll hint, so acceptance is cheap and
// the reconciler re-reads provider state before touching the run.
func (h *Handlers) agentWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[agentWebhookBody](w, r)
	if !ok {
		return
	}

	if body.Event != "statusChange" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": "unsupported event"})
		return
	}
	if body.ID == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	payload, err := json.Marshal(messagequeue.AgentWebhookPayload{
		AgentID:    body.ID,
		Status:     body.Status,
		BranchName: body.Target.BranchName,
		PRURL:      body.Target.PRURL,
		Summary:    body.Summary,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.queue.Publish(r.Context(), messagequeue.SubjectAgentWebhook, payload); err != nil {
		slog.Error("publish agent webhook", "agent_id", body.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue webhook")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
