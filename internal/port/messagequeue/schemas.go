package messagequeue

// AgentWebhookPayload is the normalized agent statusChange event published
// on SubjectAgentWebhook after HMAC verification at the HTTP boundary.
type AgentWebhookPayload struct {
	AgentID    string `json:"agent_id"`
	Status     string `json:"status"`
	BranchName string `json:"branch_name,omitempty"`
	PRURL      string `json:"pr_url,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

// RunChangedPayload announces an accepted run mutation.
type RunChangedPayload struct {
	RunID    string `json:"run_id"`
	UpdateID string `json:"update_id"`
	Status   string `json:"status"`
	Source   string `json:"source"` // "agent", "branch", "pr", or "manual"
}
