package http

import (
	"net/http"

	"github.com/skarsol/convoy/internal/domain/settings"
)

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	resp, err := h.settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) saveSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[settings.UpdateRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.settings.Save(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type testConnectionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// testConnection reports failures in the body with a 200, so the dashboard
// can show "connection failed" without treating it as a request error.
func (h *Handlers) testConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, testConnectionResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, testConnectionResponse{Success: true, Message: "connection successful"})
}
