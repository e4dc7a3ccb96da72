package run

import (
	"fmt"
	"time"

	"github.com/skarsol/convoy/internal/domain"
)

// Manual override gate. Quick actions are named, validated transitions
// rather than raw field patches: each one writes a specific field
// combination so the contradictory states (merged and closed-without-merge
// at once) cannot be constructed. Every field an action touches is pinned,
// which is what gives manual writes precedence over later automatic merges.

// Action is a named manual override.
type Action string

const (
	ActionMarkMerged Action = "mark_merged"
	ActionMarkClosed Action = "mark_closed"
	ActionReopen     Action = "reopen"
	ActionComplete   Action = "complete"
	ActionSkip       Action = "skip"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionMarkMerged, ActionMarkClosed, ActionReopen, ActionComplete, ActionSkip:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", domain.ErrValidation, s)
	}
}

// ApplyAction executes a quick action against the run.
func (r *Run) ApplyAction(a Action, now time.Time) error {
	switch a {
	case ActionMarkMerged:
		if r.Terminal() && r.Status != StatusComplete {
			return fmt.Errorf("mark merged: %w", domain.ErrTerminal)
		}
		r.PRMerged = true
		r.PRMergedAt = &now
		r.PRClosed = false
		r.Status = StatusComplete
		r.Pin(FieldPRMerged)
		r.Pin(FieldPRClosed)
		r.Pin(FieldStatus)
	case ActionMarkClosed:
		if r.Terminal() {
			return fmt.Errorf("mark closed: %w", domain.ErrTerminal)
		}
		r.PRClosed = true
		r.PRMerged = false
		r.PRMergedAt = nil
		r.Pin(FieldPRMerged)
		r.Pin(FieldPRClosed)
	case ActionReopen:
		// The only path out of a terminal state, and the only way to
		// revert the sticky merged/closed facts.
		r.PRMerged = false
		r.PRMergedAt = nil
		r.PRClosed = false
		r.Status = StatusReadyToMerge
		r.AgentQuestion = ""
		r.Pin(FieldPRMerged)
		r.Pin(FieldPRClosed)
		r.Pin(FieldStatus)
	case ActionComplete:
		if r.Terminal() && r.Status != StatusComplete {
			return fmt.Errorf("complete: %w", domain.ErrTerminal)
		}
		r.Status = StatusComplete
		r.Pin(FieldStatus)
	case ActionSkip:
		if r.Terminal() && r.Status != StatusSkipped {
			return fmt.Errorf("skip: %w", domain.ErrTerminal)
		}
		r.Status = StatusSkipped
		r.Pin(FieldStatus)
	default:
		return fmt.Errorf("%w: unknown action %q", domain.ErrValidation, a)
	}
	return nil
}

// SetStatusManual sets the status directly, bypassing automatic edges.
func (r *Run) SetStatusManual(s Status) {
	r.Status = s
	r.Pin(FieldStatus)
}

// SetBranchNameManual overrides the observed branch name.
func (r *Run) SetBranchNameManual(name string) {
	r.BranchName = name
	r.Pin(FieldBranchName)
}

// SetPRURLManual overrides the detected PR URL.
func (r *Run) SetPRURLManual(url string) {
	r.PRURL = url
	r.Pin(FieldPRURL)
}
