package run

// Signal merge rules. Every Apply* method is pure and idempotent: applying
// the same signal twice leaves the run field-for-field identical to applying
// it once. The returned bool reports whether any field changed, so callers
// persist (and bump updated_at) only on accepted mutations.
//
// Terminal runs ignore automatic signals entirely; only a manual override
// can mutate them again.

// ApplyAgent merges an agent-source observation into the run.
func (r *Run) ApplyAgent(sig AgentSignal) bool {
	if r.Terminal() {
		return false
	}
	changed := false

	if sig.AgentID != "" && r.AgentID == "" {
		r.AgentID = sig.AgentID
		changed = true
	}
	// The branch name was assigned at launch; trust the stored value and
	// only adopt the agent's report when we have none.
	if sig.BranchName != "" && r.BranchName == "" && !r.PinnedField(FieldBranchName) {
		r.BranchName = sig.BranchName
		changed = true
	}
	// Agent is the lowest-precedence source for PR facts: it may fill a
	// blank pr_url but never replaces one reported by the branch source.
	if sig.PRURL != "" && r.PRURL == "" && !r.PinnedField(FieldPRURL) {
		r.PRURL = sig.PRURL
		changed = true
	}
	// While the run gates on the branch head, a conversation that does not
	// yet carry the assistant's reply is stale: it must not overwrite the
	// view or resurrect an answered question. One that does carry the
	// reply ends waiting mode, since the assistant cannot have replied to
	// a follow-up the provider never received.
	if r.Waiting() && len(sig.Messages) > 0 {
		if repliedSince(r.Conversation, sig.Messages) {
			r.EndWaiting()
			changed = true
		} else {
			sig.Messages = nil
			sig.Question = ""
		}
	}
	if len(sig.Messages) > 0 && !messagesEqual(r.Conversation, sig.Messages) {
		r.Conversation = append([]Message(nil), sig.Messages...)
		changed = true
	}

	question := sig.Question
	switch sig.State {
	case AgentFailed:
		if question == "" {
			question = "Agent failed: " + orUnknown(sig.Summary)
		}
	case AgentStopped:
		if r.AgentQuestion == "" && question == "" {
			question = "Agent stopped by user"
		}
	case AgentFinished:
		// A finished agent has nothing left to ask.
		question = ""
	}
	if question != r.AgentQuestion && (question != "" || sig.State == AgentFinished) {
		r.AgentQuestion = question
		changed = true
	}

	if r.setStatus(r.agentTarget(sig, question)) {
		changed = true
	}
	return changed
}

// agentTarget maps an agent observation to the desired run status. An open
// question is authoritative: human input is needed regardless of what the
// provider believes the agent is doing.
func (r *Run) agentTarget(sig AgentSignal, question string) Status {
	if question != "" && sig.State != AgentStopped {
		return StatusNeedsReview
	}
	switch sig.State {
	case AgentCreating, AgentRunning:
		// Launch acknowledged: the run leaves pending.
		return StatusInProgress
	case AgentFinished:
		return StatusReadyToMerge
	case AgentStopped:
		return StatusCancelled
	case AgentFailed:
		return StatusNeedsReview
	default:
		return r.Status
	}
}

// ApplyBranch merges a branch-source observation into the run.
func (r *Run) ApplyBranch(sig BranchSignal) bool {
	if r.Terminal() {
		return false
	}
	changed := false

	if sig.CommitSHA != "" && sig.CommitSHA != r.LastCommitSHA {
		r.LastCommitSHA = sig.CommitSHA
		changed = true
	}
	// Change-detection gate: waiting mode ends exactly when the head moves
	// off the recorded SHA, never earlier.
	if r.Waiting() && sig.CommitSHA != "" && sig.CommitSHA != r.AwaitingSHA {
		r.EndWaiting()
		changed = true
	}
	if sig.PRURL != "" && sig.PRURL != r.PRURL && !r.PinnedField(FieldPRURL) {
		r.PRURL = sig.PRURL
		changed = true
	}
	// A discovered PR moves a running agent toward review, but an open
	// question still holds the run in needs_review (agent fact is
	// authoritative for the open-question state).
	if sig.PRURL != "" && r.AgentQuestion == "" && r.Status == StatusInProgress {
		if r.setStatus(StatusReadyToMerge) {
			changed = true
		}
	}
	return changed
}

// ApplyPR merges a pull-request-source observation into the run. Merged and
// closed are sticky: once true via a signal, no later signal reverts them.
func (r *Run) ApplyPR(sig PRSignal) bool {
	if r.Terminal() {
		// Cancelled runs stay cancelled even if the PR merges later; the
		// operator can Reopen if the stop was a mistake.
		return false
	}
	changed := false

	if sig.Merged && !r.PRMerged && !r.PinnedField(FieldPRMerged) {
		r.PRMerged = true
		r.PRMergedAt = sig.MergedAt
		// Merged and closed-without-merge are mutually exclusive.
		r.PRClosed = false
		changed = true
		if r.setStatus(StatusComplete) {
			changed = true
		}
	}
	if sig.Closed && !sig.Merged && !r.PRMerged && !r.PRClosed && !r.PinnedField(FieldPRClosed) {
		r.PRClosed = true
		changed = true
	}
	return changed
}

// setStatus moves the run toward target along legal automatic edges,
// honoring a manual status pin. Reports whether the status changed.
func (r *Run) setStatus(target Status) bool {
	if target == r.Status || r.PinnedField(FieldStatus) {
		return false
	}
	next := advance(r.Status, target)
	if next == r.Status {
		return false
	}
	r.Status = next
	return true
}

// repliedSince reports whether the new conversation ends with an assistant
// message that follows a user message the old conversation did not carry.
func repliedSince(old, new []Message) bool {
	if len(new) == 0 || new[len(new)-1].Role != RoleAssistant {
		return false
	}
	seen := make(map[string]int, len(old))
	for _, m := range old {
		if m.Role == RoleUser {
			seen[m.Text]++
		}
	}
	for _, m := range new[:len(new)-1] {
		if m.Role != RoleUser {
			continue
		}
		if seen[m.Text] == 0 {
			return true
		}
		seen[m.Text]--
	}
	return false
}

func messagesEqual(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
