package service

import (
	"fmt"
	"sync"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/gitsignal"
)

// Clients holds the currently configured signal source clients. Credentials
// live in the settings store; saving settings swaps the clients here, so a
// missing credential shows up as domain.ErrNotConnected instead of a
// half-configured client making doomed calls.
type Clients struct {
	mu       sync.RWMutex
	agent    agentclient.Client
	branches gitsignal.BranchClient
	prs      gitsignal.PullRequestClient
}

// NewClients creates an empty client registry.
func NewClients() *Clients {
	return &Clients{}
}

// SetAgent swaps the agent provider client. nil disconnects.
func (c *Clients) SetAgent(client agentclient.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agent = client
}

// SetGitHub swaps the branch and PR clients. nil disconnects.
func (c *Clients) SetGitHub(branches gitsignal.BranchClient, prs gitsignal.PullRequestClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.branches = branches
	c.prs = prs
}

// Agent returns the agent provider client.
func (c *Clients) Agent() (agentclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.agent == nil {
		return nil, fmt.Errorf("agent provider: %w", domain.ErrNotConnected)
	}
	return c.agent, nil
}

// Branches returns the branch signal client.
func (c *Clients) Branches() (gitsignal.BranchClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.branches == nil {
		return nil, fmt.Errorf("github: %w", domain.ErrNotConnected)
	}
	return c.branches, nil
}

// PullRequests returns the PR signal client.
func (c *Clients) PullRequests() (gitsignal.PullRequestClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.prs == nil {
		return nil, fmt.Errorf("github: %w", domain.ErrNotConnected)
	}
	return c.prs, nil
}
