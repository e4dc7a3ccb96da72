package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/port/database"
	"github.com/skarsol/convoy/internal/port/messagequeue"
)

// WebhookService consumes verified agent webhook events from the queue and
// turns them into immediate polls. The webhook is a hint, not a source of
// truth: the run is reconciled from a fresh provider read, so a stale or
// duplicated delivery can never corrupt state.
type WebhookService struct {
	store     database.Store
	reconcile *ReconcileService
}

// NewWebhookService creates a WebhookService.
func NewWebhookService(store database.Store, reconcile *ReconcileService) *WebhookService {
	return &WebhookService{store: store, reconcile: reconcile}
}

// Subscribe attaches the webhook consumer to the queue. The returned
// function cancels the subscription.
func (s *WebhookService) Subscribe(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectAgentWebhook, s.handle)
}

func (s *WebhookService) handle(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.AgentWebhookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// Drop malformed payloads; redelivery cannot fix them.
		slog.Error("malformed agent webhook", "error", err)
		return nil
	}
	if payload.AgentID == "" {
		slog.Warn("agent webhook without agent id")
		return nil
	}

	r, err := s.store.GetRunByAgent(ctx, payload.AgentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Not one of ours (or the run was deleted); ack and move on.
			slog.Debug("agent webhook for unknown agent", "agent_id", payload.AgentID)
			return nil
		}
		return fmt.Errorf("resolve webhook agent %s: %w", payload.AgentID, err)
	}

	slog.Info("agent webhook received", "run_id", r.ID, "agent_id", payload.AgentID, "status", payload.Status)
	return s.reconcile.PollAgentFresh(ctx, r.ID)
}
