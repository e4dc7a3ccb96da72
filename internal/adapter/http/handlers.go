// Package http exposes the REST API over chi.
package http

import (
	"context"
	"net/http"

	"github.com/skarsol/convoy/internal/port/messagequeue"
	"github.com/skarsol/convoy/internal/service"
)

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers aggregates all HTTP handlers and their service dependencies.
type Handlers struct {
	updates  *service.UpdateService
	repos    *service.RepoService
	runs     *service.RunService
	settings *service.SettingsService
	queue    messagequeue.Queue
	db       Pinger
	version  string
}

// NewHandlers builds the handler set.
func NewHandlers(
	updates *service.UpdateService,
	repos *service.RepoService,
	runs *service.RunService,
	settings *service.SettingsService,
	queue messagequeue.Queue,
	db Pinger,
	version string,
) *Handlers {
	return &Handlers{
		updates:  updates,
		repos:    repos,
		runs:     runs,
		settings: settings,
		queue:    queue,
		db:       db,
		version:  version,
	}
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{"database": "ok", "queue": "ok"}

	if err := h.db.Ping(r.Context()); err != nil {
		checks["database"] = err.Error()
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.queue.IsConnected() {
		checks["queue"] = "disconnected"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}
