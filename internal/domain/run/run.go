// Package run defines the Run domain entity: the tracked lifecycle of one
// (update, repo) agent session, and the pure merge rules that advance it.
package run

import (
	"fmt"
	"time"
)

// Status represents the current lifecycle state of a run.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInProgress   Status = "in_progress"
	StatusNeedsReview  Status = "needs_review"
	StatusReadyToMerge Status = "ready_to_merge"
	StatusComplete     Status = "complete"
	StatusCancelled    Status = "cancelled"
	StatusSkipped      Status = "skipped"
)

// ParseStatus validates a raw status string. Unknown statuses are a
// construction-time error, never a silent fallback.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusInProgress, StatusNeedsReview,
		StatusReadyToMerge, StatusComplete, StatusCancelled, StatusSkipped:
		return st, nil
	default:
		return "", fmt.Errorf("unknown run status %q", s)
	}
}

// Terminal reports whether the status is final for automatic signals.
// Terminal runs are read-only to polling; only a manual Reopen leaves them.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusSkipped
}

// autoEdges lists the transitions an automatic signal merge may take.
// Cancellation is handled separately (any non-terminal state may cancel).
var autoEdges = map[Status][]Status{
	StatusPending:      {StatusInProgress},
	StatusInProgress:   {StatusNeedsReview, StatusReadyToMerge},
	StatusNeedsReview:  {StatusInProgress, StatusReadyToMerge},
	StatusReadyToMerge: {StatusNeedsReview, StatusComplete},
}

// CanTransition reports whether an automatic merge may move a run from cur
// directly to next. Terminal states have no automatic exits.
func CanTransition(cur, next Status) bool {
	if cur == next {
		return true
	}
	if next == StatusCancelled {
		return !cur.Terminal()
	}
	for _, s := range autoEdges[cur] {
		if s == next {
			return true
		}
	}
	return false
}

// advance walks automatic edges from cur toward target, passing through
// intermediate states where the graph requires it (e.g. pending → complete
// goes via in_progress and ready_to_merge when a merged PR is observed
// before the agent launch was ever polled). Returns cur when target is
// unreachable, so conflicting signals degrade to a no-op, not an error.
func advance(cur, target Status) Status {
	if cur == target || cur.Terminal() {
		return cur
	}
	if CanTransition(cur, target) {
		return target
	}
	// Single well-known multi-hop paths; anything else is unreachable.
	via := map[Status]Status{
		StatusPending:     StatusInProgress,
		StatusInProgress:  StatusReadyToMerge,
		StatusNeedsReview: StatusInProgress,
	}
	next, ok := via[cur]
	if !ok || next == cur {
		return cur
	}
	if got := advance(next, target); got == target {
		return target
	}
	return cur
}

// Message is one entry of a run's canonical conversation.
type Message struct {
	ID   string `json:"id"`
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Field names a manual override may pin. A pinned field is never written by
// an automatic merge again; this table is the single source of truth for
// override precedence.
type Field string

const (
	FieldStatus     Field = "status"
	FieldBranchName Field = "branch_name"
	FieldPRURL      Field = "pr_url"
	FieldPRMerged   Field = "pr_merged"
	FieldPRClosed   Field = "pr_closed"
)

// ParseField validates a raw override field name.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldStatus, FieldBranchName, FieldPRURL, FieldPRMerged, FieldPRClosed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown override field %q", s)
	}
}

// Run is the canonical record for one (update, repo) agent session.
// All signal sources merge into it; all consumers read from it.
type Run struct {
	ID       string `json:"id"`
	UpdateID string `json:"update_id"`
	RepoID   string `json:"repo_id"`

	Status        Status     `json:"status"`
	AgentID       string     `json:"agent_id,omitempty"`
	BranchName    string     `json:"branch_name,omitempty"`
	LastCommitSHA string     `json:"last_commit_sha,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	PRMerged      bool       `json:"pr_merged"`
	PRMergedAt    *time.Time `json:"pr_merged_at,omitempty"`
	PRClosed      bool       `json:"pr_closed"`
	AgentQuestion string     `json:"agent_question,omitempty"`
	Conversation  []Message  `json:"conversation"`

	CustomInstructions string `json:"custom_instructions,omitempty"`
	AutoCreatePR       *bool  `json:"auto_create_pr,omitempty"` // nil = inherit update default

	// Pinned lists fields set by a manual override. Automatic merges skip
	// them so a poll can never silently undo a deliberate human action.
	Pinned []Field `json:"pinned,omitempty"`

	// Change-detection: when non-empty, the run is waiting for the branch
	// head to move off this commit before the conversation is re-fetched.
	AwaitingSHA   string     `json:"awaiting_sha,omitempty"`
	AwaitingSince *time.Time `json:"awaiting_since,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the run's agent session has ended.
func (r *Run) Terminal() bool { return r.Status.Terminal() }

// PinnedField reports whether f was set manually.
func (r *Run) PinnedField(f Field) bool {
	for _, p := range r.Pinned {
		if p == f {
			return true
		}
	}
	return false
}

// Pin marks f as manually overridden. Idempotent.
func (r *Run) Pin(f Field) {
	if !r.PinnedField(f) {
		r.Pinned = append(r.Pinned, f)
	}
}

// Waiting reports whether the run is in change-detection waiting mode.
func (r *Run) Waiting() bool { return r.AwaitingSHA != "" }

// BeginWaiting records the current commit SHA as the change token before a
// follow-up is sent. The branch poller clears it once the head moves.
func (r *Run) BeginWaiting(now time.Time) {
	r.AwaitingSHA = r.LastCommitSHA
	if r.AwaitingSHA == "" {
		// No commit observed yet: any first push counts as the change.
		r.AwaitingSHA = "-"
	}
	r.AwaitingSince = &now
}

// EndWaiting leaves change-detection waiting mode.
func (r *Run) EndWaiting() {
	r.AwaitingSHA = ""
	r.AwaitingSince = nil
}

// AutoPR resolves the tri-state auto-create-PR setting against the
// update-level default.
func (r *Run) AutoPR(updateDefault bool) bool {
	if r.AutoCreatePR != nil {
		return *r.AutoCreatePR
	}
	return updateDefault
}
