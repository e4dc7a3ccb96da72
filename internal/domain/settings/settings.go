// Package settings defines stored user credentials for the external signal
// sources. A missing credential makes the corresponding signal client
// permanently unavailable until settings change; it is never retried.
package settings

import "time"

// Settings holds the single-user credential record.
type Settings struct {
	ID            string    `json:"id"`
	AgentAPIKey   string    `json:"-"`
	GitHubToken   string    `json:"-"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AgentConnected reports whether the agent provider account is usable.
func (s *Settings) AgentConnected() bool { return s != nil && s.AgentAPIKey != "" }

// GitHubConnected reports whether branch/PR polling is usable.
func (s *Settings) GitHubConnected() bool { return s != nil && s.GitHubToken != "" }

// UpdateRequest patches stored credentials. Nil fields are left unchanged;
// an explicit empty string clears the credential.
type UpdateRequest struct {
	AgentAPIKey   *string `json:"agent_api_key,omitempty"`
	GitHubToken   *string `json:"github_token,omitempty"`
	WebhookSecret *string `json:"webhook_secret,omitempty"`
}

// Response is the read model: presence flags only, never the key material.
type Response struct {
	ID               string    `json:"id"`
	HasAgentAPIKey   bool      `json:"has_agent_api_key"`
	GitHubConnected  bool      `json:"github_connected"`
	HasWebhookSecret bool      `json:"has_webhook_secret"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
