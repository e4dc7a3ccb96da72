package run_test

import (
	"testing"
	"time"

	"github.com/skarsol/convoy/internal/domain/run"
)

func newRun(status run.Status) *run.Run {
	return &run.Run{
		ID:       "r1",
		UpdateID: "u1",
		RepoID:   "repo1",
		Status:   status,
	}
}

func TestApplyAgentLaunchAcknowledged(t *testing.T) {
	r := newRun(run.StatusPending)
	sig := run.AgentSignal{AgentID: "bc_1", State: run.AgentRunning}

	if !r.ApplyAgent(sig) {
		t.Fatal("expected change")
	}
	if r.AgentID != "bc_1" {
		t.Errorf("agent id = %q", r.AgentID)
	}
	if r.Status != run.StatusInProgress {
		t.Errorf("status = %q, want in_progress", r.Status)
	}
}

func TestApplyAgentIdempotent(t *testing.T) {
	r := newRun(run.StatusPending)
	sig := run.AgentSignal{
		AgentID:  "bc_1",
		State:    run.AgentRunning,
		Messages: []run.Message{{ID: "m1", Role: run.RoleUser, Text: "go"}},
	}

	if !r.ApplyAgent(sig) {
		t.Fatal("first apply should change")
	}
	snapshot := *r
	if r.ApplyAgent(sig) {
		t.Fatal("second apply of identical signal should be a no-op")
	}
	if r.Status != snapshot.Status || r.AgentID != snapshot.AgentID {
		t.Error("second apply mutated the run")
	}
}

func TestApplyAgentQuestionForcesNeedsReview(t *testing.T) {
	r := newRun(run.StatusInProgress)
	sig := run.AgentSignal{
		State:    run.AgentRunning,
		Question: "Should I also update the tests?",
		Messages: []run.Message{{ID: "m1", Role: run.RoleAssistant, Text: "Should I also update the tests?"}},
	}

	if !r.ApplyAgent(sig) {
		t.Fatal("expected change")
	}
	if r.Status != run.StatusNeedsReview {
		t.Errorf("status = %q, want needs_review", r.Status)
	}
	if r.AgentQuestion == "" {
		t.Error("expected agent question to be recorded")
	}
}

func TestApplyAgentFinishedClearsQuestion(t *testing.T) {
	r := newRun(run.StatusNeedsReview)
	r.AgentQuestion = "Which branch?"

	if !r.ApplyAgent(run.AgentSignal{State: run.AgentFinished}) {
		t.Fatal("expected change")
	}
	if r.AgentQuestion != "" {
		t.Errorf("question = %q, want cleared", r.AgentQuestion)
	}
	if r.Status != run.StatusReadyToMerge {
		t.Errorf("status = %q, want ready_to_merge", r.Status)
	}
}

func TestApplyAgentFinishedFromPendingMultiHop(t *testing.T) {
	// A finished agent observed before any other poll walks
	// pending -> in_progress -> ready_to_merge.
	r := newRun(run.StatusPending)
	if !r.ApplyAgent(run.AgentSignal{State: run.AgentFinished}) {
		t.Fatal("expected change")
	}
	if r.Status != run.StatusReadyToMerge {
		t.Errorf("status = %q, want ready_to_merge", r.Status)
	}
}

func TestApplyAgentStoppedCancels(t *testing.T) {
	r := newRun(run.StatusInProgress)
	if !r.ApplyAgent(run.AgentSignal{State: run.AgentStopped}) {
		t.Fatal("expected change")
	}
	if r.Status != run.StatusCancelled {
		t.Errorf("status = %q, want cancelled", r.Status)
	}
}

func TestApplyAgentTerminalIgnored(t *testing.T) {
	for _, st := range []run.Status{run.StatusComplete, run.StatusCancelled, run.StatusSkipped} {
		r := newRun(st)
		if r.ApplyAgent(run.AgentSignal{State: run.AgentRunning, AgentID: "bc_9"}) {
			t.Errorf("%s: terminal run accepted an agent signal", st)
		}
	}
}

func TestApplyAgentDoesNotOverwriteBranchName(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.BranchName = "feat/widget-abc123"

	r.ApplyAgent(run.AgentSignal{State: run.AgentRunning, BranchName: "cursor/other-branch"})
	if r.BranchName != "feat/widget-abc123" {
		t.Errorf("branch name overwritten: %q", r.BranchName)
	}
}

func TestApplyBranchRecordsCommit(t *testing.T) {
	r := newRun(run.StatusInProgress)
	if !r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc"}) {
		t.Fatal("expected change")
	}
	if r.LastCommitSHA != "abc" {
		t.Errorf("sha = %q", r.LastCommitSHA)
	}
	if r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc"}) {
		t.Error("same commit should be a no-op")
	}
}

func TestApplyBranchEndsWaitingOnNewCommit(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.LastCommitSHA = "abc"
	r.BeginWaiting(time.Now())

	// Same head: still waiting, even across repeated polls.
	for i := 0; i < 3; i++ {
		r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc"})
		if !r.Waiting() {
			t.Fatal("waiting mode ended without a new commit")
		}
	}

	if !r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "def"}) {
		t.Fatal("expected change")
	}
	if r.Waiting() {
		t.Error("waiting mode should end when the head moves")
	}
	if r.LastCommitSHA != "def" {
		t.Errorf("sha = %q", r.LastCommitSHA)
	}
}

func TestBeginWaitingWithoutCommitUsesSentinel(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.BeginWaiting(time.Now())
	if !r.Waiting() {
		t.Fatal("expected waiting mode")
	}

	// First ever observed commit counts as the change.
	if !r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc"}) {
		t.Fatal("expected change")
	}
	if r.Waiting() {
		t.Error("waiting mode should end on first observed commit")
	}
}

func TestApplyBranchDiscoveredPRAdvancesStatus(t *testing.T) {
	r := newRun(run.StatusInProgress)
	if !r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc", PRURL: "https://github.com/o/r/pull/1"}) {
		t.Fatal("expected change")
	}
	if r.PRURL != "https://github.com/o/r/pull/1" {
		t.Errorf("pr url = %q", r.PRURL)
	}
	if r.Status != run.StatusReadyToMerge {
		t.Errorf("status = %q, want ready_to_merge", r.Status)
	}
}

func TestApplyBranchPRDoesNotAdvancePastOpenQuestion(t *testing.T) {
	r := newRun(run.StatusNeedsReview)
	r.AgentQuestion = "Merge strategy?"

	r.ApplyBranch(run.BranchSignal{Exists: true, PRURL: "https://github.com/o/r/pull/1"})
	if r.Status != run.StatusNeedsReview {
		t.Errorf("status = %q, open question should hold needs_review", r.Status)
	}
}

func TestApplyPRMergedIsSticky(t *testing.T) {
	r := newRun(run.StatusReadyToMerge)
	mergedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if !r.ApplyPR(run.PRSignal{Merged: true, MergedAt: &mergedAt}) {
		t.Fatal("expected change")
	}
	if !r.PRMerged || r.Status != run.StatusComplete {
		t.Fatalf("merged=%v status=%q", r.PRMerged, r.Status)
	}

	// Later contradictory observations never revert the merge fact.
	if r.ApplyPR(run.PRSignal{State: "open"}) {
		t.Error("post-merge signal should be a no-op")
	}
	if !r.PRMerged {
		t.Error("merged flag reverted")
	}
}

func TestApplyPRClosedWithoutMerge(t *testing.T) {
	r := newRun(run.StatusReadyToMerge)
	if !r.ApplyPR(run.PRSignal{State: "closed", Closed: true}) {
		t.Fatal("expected change")
	}
	if !r.PRClosed || r.PRMerged {
		t.Fatalf("closed=%v merged=%v", r.PRClosed, r.PRMerged)
	}
	// Closed without merge leaves the lifecycle status alone.
	if r.Status != run.StatusReadyToMerge {
		t.Errorf("status = %q, want unchanged", r.Status)
	}
	if r.ApplyPR(run.PRSignal{State: "closed", Closed: true}) {
		t.Error("repeat close should be a no-op")
	}
}

func TestApplyPRCancelledRunStaysCancelled(t *testing.T) {
	r := newRun(run.StatusCancelled)
	mergedAt := time.Now()
	if r.ApplyPR(run.PRSignal{Merged: true, MergedAt: &mergedAt}) {
		t.Error("cancelled run accepted a PR signal")
	}
	if r.PRMerged {
		t.Error("cancelled run marked merged by a signal")
	}
}

func TestPinnedStatusBlocksAutomaticWrites(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.SetStatusManual(run.StatusNeedsReview)

	r.ApplyAgent(run.AgentSignal{State: run.AgentFinished})
	if r.Status != run.StatusNeedsReview {
		t.Errorf("status = %q, pin should block the automatic transition", r.Status)
	}
}

func TestPinnedPRURLBlocksAutomaticWrites(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.SetPRURLManual("https://github.com/o/r/pull/7")

	r.ApplyBranch(run.BranchSignal{Exists: true, PRURL: "https://github.com/o/r/pull/8"})
	if r.PRURL != "https://github.com/o/r/pull/7" {
		t.Errorf("pr url = %q, pin should hold the manual value", r.PRURL)
	}
}

func TestFullLifecycle(t *testing.T) {
	r := newRun(run.StatusPending)

	r.ApplyAgent(run.AgentSignal{AgentID: "bc_1", State: run.AgentRunning})
	if r.Status != run.StatusInProgress {
		t.Fatalf("after launch: status = %q", r.Status)
	}

	r.ApplyAgent(run.AgentSignal{
		AgentID:  "bc_1",
		State:    run.AgentRunning,
		Question: "Bump the minor version too?",
		Messages: []run.Message{{ID: "m1", Role: run.RoleAssistant, Text: "Bump the minor version too?"}},
	})
	if r.Status != run.StatusNeedsReview || r.AgentQuestion == "" {
		t.Fatalf("after question: status = %q, question = %q", r.Status, r.AgentQuestion)
	}

	// The user answers via a follow-up, which clears the question and
	// arms change detection before the agent pushes new work.
	r.AgentQuestion = ""
	r.BeginWaiting(time.Now())
	r.Status = run.StatusInProgress
	if !r.Waiting() {
		t.Fatal("after answer: expected waiting mode")
	}

	r.ApplyBranch(run.BranchSignal{Exists: true, CommitSHA: "abc", PRURL: "https://github.com/o/r/pull/5"})
	if r.Waiting() {
		t.Fatal("after push: waiting mode should end on a new commit")
	}
	if r.Status != run.StatusReadyToMerge {
		t.Fatalf("after pr discovery: status = %q", r.Status)
	}

	merged := time.Now()
	r.ApplyPR(run.PRSignal{State: "closed", Merged: true, MergedAt: &merged, Closed: true})
	if r.Status != run.StatusComplete || !r.PRMerged {
		t.Fatalf("after merge: status = %q, merged = %v", r.Status, r.PRMerged)
	}
}

func TestApplyAgentReplyEndsWaiting(t *testing.T) {
	r := newRun(run.StatusInProgress)
	r.Conversation = []run.Message{{ID: "m1", Role: run.RoleUser, Text: "go"}}
	r.LastCommitSHA = "abc"
	r.BeginWaiting(time.Now())

	changed := r.ApplyAgent(run.AgentSignal{
		State: run.AgentRunning,
		Messages: []run.Message{
			{ID: "m1", Role: run.RoleUser, Text: "go"},
			{ID: "m2", Role: run.RoleUser, Text: "use the v2 endpoint"},
			{ID: "m3", Role: run.RoleAssistant, Text: "Switched to v2 and pushed."},
		},
	})
	if !changed {
		t.Fatal("expected change")
	}
	if r.Waiting() {
		t.Error("an assistant reply to the follow-up should end waiting mode")
	}
	if len(r.Conversation) != 3 {
		t.Errorf("conversation length = %d", len(r.Conversation))
	}
}

func TestApplyAgentStaleConversationKeepsWaiting(t *testing.T) {
	stale := []run.Message{
		{ID: "m1", Role: run.RoleUser, Text: "go"},
		{ID: "m2", Role: run.RoleAssistant, Text: "Should I bump the version?"},
	}
	r := newRun(run.StatusInProgress)
	r.Conversation = append([]run.Message(nil), stale...)
	r.LastCommitSHA = "abc"
	// Follow-up answered the question and armed change detection.
	r.AgentQuestion = ""
	r.BeginWaiting(time.Now())

	if r.ApplyAgent(run.AgentSignal{
		State:    run.AgentRunning,
		Question: "Should I bump the version?",
		Messages: stale,
	}) {
		t.Fatal("stale conversation must be a no-op")
	}
	if !r.Waiting() {
		t.Error("stale conversation must not end waiting mode")
	}
	if r.AgentQuestion != "" {
		t.Errorf("question = %q, a stale fetch must not resurrect an answered question", r.AgentQuestion)
	}
}
