package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/skarsol/convoy/internal/domain/run"
)

// Event type constants for WebSocket messages.
const (
	EventRunChanged   = "run.changed"
	EventUpdateStatus = "update.status"
)

// RunChangedEvent is broadcast whenever a run mutation is accepted, carrying
// the full fresh snapshot so clients never apply partial deltas.
type RunChangedEvent struct {
	Run    *run.Run `json:"run"`
	Source string   `json:"source"` // "agent", "branch", "pr" or "manual"
}

// UpdateStatusEvent is broadcast when an update's rolled-up status changes.
type UpdateStatusEvent struct {
	UpdateID string `json:"update_id"`
	Status   string `json:"status"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
