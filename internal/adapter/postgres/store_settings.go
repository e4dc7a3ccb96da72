package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skarsol/convoy/internal/domain/settings"
)

const settingsColumns = `id, agent_api_key, github_token, webhook_secret, created_at, updated_at`

// GetSettings returns the single settings row, creating an empty one on
// first access.
func (s *Store) GetSettings(ctx context.Context) (*settings.Settings, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM settings LIMIT 1`)

	cfg, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.createSettings(ctx)
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return cfg, nil
}

func (s *Store) createSettings(ctx context.Context) (*settings.Settings, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO settings (agent_api_key, github_token, webhook_secret)
		 VALUES ('', '', '')
		 RETURNING ` + settingsColumns)

	cfg, err := scanSettings(row)
	if err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	return cfg, nil
}

// SaveSettings applies a partial credential update and returns the result.
// Nil fields are untouched; explicit empty strings clear the credential.
func (s *Store) SaveSettings(ctx context.Context, req *settings.UpdateRequest) (*settings.Settings, error) {
	cur, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	if req.AgentAPIKey != nil {
		cur.AgentAPIKey = *req.AgentAPIKey
	}
	if req.GitHubToken != nil {
		cur.GitHubToken = *req.GitHubToken
	}
	if req.WebhookSecret != nil {
		cur.WebhookSecret = *req.WebhookSecret
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE settings SET agent_api_key = $2, github_token = $3, webhook_secret = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+settingsColumns,
		cur.ID, cur.AgentAPIKey, cur.GitHubToken, cur.WebhookSecret)

	saved, err := scanSettings(row)
	if err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return saved, nil
}

func scanSettings(row scannable) (*settings.Settings, error) {
	var cfg settings.Settings
	err := row.Scan(&cfg.ID, &cfg.AgentAPIKey, &cfg.GitHubToken, &cfg.WebhookSecret, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
