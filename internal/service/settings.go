package service

import (
	"context"
	"log/slog"

	"github.com/skarsol/convoy/internal/domain/settings"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/database"
	"github.com/skarsol/convoy/internal/port/gitsignal"
)

// ClientFactory builds signal clients from stored credentials. Wired in
// main with the concrete adapters so the service layer stays free of
// transport constructors.
type ClientFactory struct {
	NewAgent  func(apiKey string) agentclient.Client
	NewGitHub func(ctx context.Context, token string) (gitsignal.BranchClient, gitsignal.PullRequestClient, error)
}

// SettingsService manages stored credentials and keeps the client registry
// in sync with them.
type SettingsService struct {
	store   database.Store
	clients *Clients
	factory ClientFactory

	// onRebuilt fires after every client rebuild; the scheduler hooks in
	// here to revive poll loops parked on a missing credential.
	onRebuilt func()
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(store database.Store, clients *Clients, factory ClientFactory) *SettingsService {
	return &SettingsService{
		store:   store,
		clients: clients,
		factory: factory,
	}
}

// Get returns the settings read model: presence flags only, never keys.
func (s *SettingsService) Get(ctx context.Context) (*settings.Response, error) {
	cfg, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return response(cfg), nil
}

// Save applies a partial credential update and rebuilds the affected
// signal clients.
func (s *SettingsService) Save(ctx context.Context, req *settings.UpdateRequest) (*settings.Response, error) {
	cfg, err := s.store.SaveSettings(ctx, req)
	if err != nil {
		return nil, err
	}
	s.rebuild(ctx, cfg)
	return response(cfg), nil
}

// SetOnRebuilt registers a callback invoked after every client rebuild.
func (s *SettingsService) SetOnRebuilt(fn func()) {
	s.onRebuilt = fn
}

// TestConnection checks the stored agent credential against the provider.
func (s *SettingsService) TestConnection(ctx context.Context) error {
	client, err := s.clients.Agent()
	if err != nil {
		return err
	}
	return client.Verify(ctx)
}

// WebhookSecret resolves the current webhook secret for signature checks.
func (s *SettingsService) WebhookSecret(ctx context.Context) string {
	cfg, err := s.store.GetSettings(ctx)
	if err != nil {
		slog.Error("load webhook secret", "error", err)
		return ""
	}
	return cfg.WebhookSecret
}

// Bootstrap builds clients from the credentials present at startup.
func (s *SettingsService) Bootstrap(ctx context.Context) error {
	cfg, err := s.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	s.rebuild(ctx, cfg)
	return nil
}

func (s *SettingsService) rebuild(ctx context.Context, cfg *settings.Settings) {
	if cfg.AgentConnected() {
		s.clients.SetAgent(s.factory.NewAgent(cfg.AgentAPIKey))
	} else {
		s.clients.SetAgent(nil)
	}

	if cfg.GitHubConnected() {
		branches, prs, err := s.factory.NewGitHub(ctx, cfg.GitHubToken)
		if err != nil {
			slog.Error("build github clients", "error", err)
			s.clients.SetGitHub(nil, nil)
		} else {
			s.clients.SetGitHub(branches, prs)
		}
	} else {
		s.clients.SetGitHub(nil, nil)
	}

	slog.Info("signal clients rebuilt",
		"agent_connected", cfg.AgentConnected(),
		"github_connected", cfg.GitHubConnected(),
	)

	if s.onRebuilt != nil {
		s.onRebuilt()
	}
}

func response(cfg *settings.Settings) *settings.Response {
	return &settings.Response{
		ID:               cfg.ID,
		HasAgentAPIKey:   cfg.AgentConnected(),
		GitHubConnected:  cfg.GitHubConnected(),
		HasWebhookSecret: cfg.WebhookSecret != "",
		CreatedAt:        cfg.CreatedAt,
		UpdatedAt:        cfg.UpdatedAt,
	}
}
