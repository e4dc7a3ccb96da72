package run

import (
	"strings"
	"time"
)

// Source identifies which external system reported a signal. Sources are
// ordered by precedence: a merged or closed PR is an externally-verified,
// irreversible fact and supersedes branch observation, which supersedes
// agent self-reporting.
type Source int

const (
	SourceAgent Source = iota
	SourceBranch
	SourcePR
	// SourceManual marks operator writes; it sits outside the automatic
	// precedence order and always wins.
	SourceManual
)

func (s Source) String() string {
	switch s {
	case SourceAgent:
		return "agent"
	case SourceBranch:
		return "branch"
	case SourcePR:
		return "pr"
	case SourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

// AgentState is the run state as reported by the agent provider.
type AgentState string

const (
	AgentCreating AgentState = "CREATING"
	AgentRunning  AgentState = "RUNNING"
	AgentFinished AgentState = "FINISHED"
	AgentStopped  AgentState = "STOPPED"
	AgentFailed   AgentState = "FAILED"
)

// AgentSignal is one observation from the agent provider: run state plus the
// canonical conversation. Question is non-empty when the agent is blocked
// awaiting human input (last assistant message ends with a question mark).
type AgentSignal struct {
	AgentID    string
	State      AgentState
	BranchName string
	PRURL      string
	Summary    string
	Question   string
	Messages   []Message
}

// BranchSignal is one observation of the agent's working branch.
type BranchSignal struct {
	Exists    bool
	CommitSHA string
	// PRURL is set when the branch observation discovered an open PR for
	// the branch.
	PRURL string
}

// PRSignal is one observation of the pull request's state.
type PRSignal struct {
	State    string
	Merged   bool
	MergedAt *time.Time
	Closed   bool
}

// DetectQuestion implements the question heuristic used across merge and
// launch paths: the conversation carries an open question when its last
// assistant message ends with "?".
func DetectQuestion(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(messages[i].Text), "?") {
			return messages[i].Text
		}
		return ""
	}
	return ""
}
