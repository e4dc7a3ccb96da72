package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skarsol/convoy/internal/adapter/ws"
	"github.com/skarsol/convoy/internal/middleware"
)

// MountRoutes registers all API routes on the router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub, webhookSecret middleware.SecretFunc) {
	r.Get("/health", h.health)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
	})

	r.Get("/ws", hub.HandleWS)

	// Signed callbacks sit outside /api/v1 so the HMAC check never wraps
	// interactive routes.
	r.Route("/api/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(webhookSecret, "X-Webhook-Signature")).
			Post("/agent", h.agentWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/updates", h.listUpdates)
		r.Post("/updates", h.createUpdate)
		r.Get("/updates/{id}", h.getUpdate)
		r.Delete("/updates/{id}", h.deleteUpdate)
		r.Post("/updates/{id}/start-agents", h.startAgents)
		r.Get("/updates/{id}/runs", h.listUpdateRuns)

		r.Get("/repos", h.listRepos)
		r.Post("/repos", h.createRepo)
		r.Post("/repos/check", h.checkRepo)
		r.Get("/repos/{id}", h.getRepo)
		r.Put("/repos/{id}", h.updateRepo)
		r.Delete("/repos/{id}", h.deleteRepo)

		r.Get("/runs/{id}", h.getRun)
		r.Patch("/runs/{id}", h.patchRun)
		r.Get("/runs/{id}/conversation", h.getRunConversation)
		r.Post("/runs/{id}/followup", h.followupRun)
		r.Post("/runs/{id}/stop", h.stopRun)
		r.Post("/runs/{id}/sync", h.syncRun)
		r.Get("/runs/{id}/pr", h.getRunPRDetails)
		r.Post("/runs/{id}/actions", h.applyRunAction)

		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.saveSettings)
		r.Post("/settings/test-connection", h.testConnection)
	})
}
