package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skarsol/convoy/internal/domain/run"
)

// Overlay is the optimistic message buffer. A follow-up shows up in the
// conversation view immediately, before the provider's canonical feed echoes
// it back. Pending messages are matched by role and text: once the canonical
// conversation contains an identical message the pending copy is dropped.
// Pending messages are never persisted; the canonical conversation always
// comes from the provider.
type Overlay struct {
	mu      sync.Mutex
	pending map[string][]pendingMessage // run ID -> pending messages
	maxAge  time.Duration
}

type pendingMessage struct {
	msg     run.Message
	addedAt time.Time
}

// NewOverlay creates an overlay buffer. Pending messages older than maxAge
// are dropped on the next read, covering the case where the provider never
// echoes a message back.
func NewOverlay(maxAge time.Duration) *Overlay {
	return &Overlay{
		pending: make(map[string][]pendingMessage),
		maxAge:  maxAge,
	}
}

// Add buffers a just-sent user message for the run and returns it with an
// assigned placeholder ID.
func (o *Overlay) Add(runID, text string) run.Message {
	msg := run.Message{
		ID:   "pending-" + uuid.NewString(),
		Role: run.RoleUser,
		Text: text,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[runID] = append(o.pending[runID], pendingMessage{msg: msg, addedAt: time.Now()})
	return msg
}

// View returns the run's conversation with unmatched pending messages
// appended. Matched and expired pending messages are pruned as a side
// effect, so the buffer converges as canonical polls arrive.
func (o *Overlay) View(runID string, canonical []run.Message) []run.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	remaining := o.prune(runID, canonical)
	if len(remaining) == 0 {
		return canonical
	}

	view := append([]run.Message(nil), canonical...)
	for _, p := range remaining {
		view = append(view, p.msg)
	}
	return view
}

// Reconcile drops pending messages now present in the canonical conversation.
func (o *Overlay) Reconcile(runID string, canonical []run.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prune(runID, canonical)
}

// Clear removes all pending messages for a run.
func (o *Overlay) Clear(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, runID)
}

// prune must be called with o.mu held.
func (o *Overlay) prune(runID string, canonical []run.Message) []pendingMessage {
	pending := o.pending[runID]
	if len(pending) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(canonical))
	for _, m := range canonical {
		seen[m.Role+"\x00"+m.Text] = struct{}{}
	}

	cutoff := time.Now().Add(-o.maxAge)
	var remaining []pendingMessage
	for _, p := range pending {
		if _, ok := seen[p.msg.Role+"\x00"+p.msg.Text]; ok {
			continue
		}
		if p.addedAt.Before(cutoff) {
			continue
		}
		remaining = append(remaining, p)
	}

	if len(remaining) == 0 {
		delete(o.pending, runID)
	} else {
		o.pending[runID] = remaining
	}
	return remaining
}
