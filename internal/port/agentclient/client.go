// Package agentclient defines the agent provider port: the read-only status
// and conversation feed of a cloud coding agent, plus the launch, follow-up
// and stop commands.
package agentclient

import (
	"context"

	"github.com/skarsol/convoy/internal/domain/run"
)

// LaunchRequest describes an agent to launch against a repository.
type LaunchRequest struct {
	Repository   string // full repository URL
	Prompt       string
	Ref          string // git ref to start from; empty tries "main" then "master"
	BranchName   string // branch the agent must push to
	AutoCreatePR bool
}

// Client is the port interface for the agent provider.
// Fetch failures are retryable unless wrapped in domain.ErrNotConnected.
type Client interface {
	// Launch starts an agent and returns its provider-assigned ID.
	Launch(ctx context.Context, req *LaunchRequest) (string, error)

	// Status returns the agent's current run state.
	Status(ctx context.Context, agentID string) (*run.AgentSignal, error)

	// Conversation returns the canonical ordered conversation.
	Conversation(ctx context.Context, agentID string) ([]run.Message, error)

	// Followup sends a follow-up instruction to a running agent.
	Followup(ctx context.Context, agentID, text string) error

	// Stop cancels a running agent.
	Stop(ctx context.Context, agentID string) error

	// Verify checks that the stored credential is accepted by the provider.
	Verify(ctx context.Context) error
}
