// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/settings"
	"github.com/skarsol/convoy/internal/domain/update"
)

// Store is the port interface for database operations.
type Store interface {
	// Updates
	ListUpdates(ctx context.Context) ([]update.Update, error)
	GetUpdate(ctx context.Context, id string) (*update.Update, error)
	CreateUpdate(ctx context.Context, req *update.CreateRequest) (*update.Update, error)
	UpdateUpdateStatus(ctx context.Context, id string, status update.Status) error
	DeleteUpdate(ctx context.Context, id string) error

	// Repos
	ListRepos(ctx context.Context) ([]repo.Repo, error)
	GetRepo(ctx context.Context, id string) (*repo.Repo, error)
	CreateRepo(ctx context.Context, req *repo.CreateRequest) (*repo.Repo, error)
	UpdateRepo(ctx context.Context, r *repo.Repo) error
	DeleteRepo(ctx context.Context, id string) error

	// Runs
	ListRunsByUpdate(ctx context.Context, updateID string) ([]run.Run, error)
	ListActiveRuns(ctx context.Context) ([]run.Run, error)
	GetRun(ctx context.Context, id string) (*run.Run, error)
	GetRunByAgent(ctx context.Context, agentID string) (*run.Run, error)
	CreateRun(ctx context.Context, r *run.Run) (*run.Run, error)
	// SaveRun persists all mutable run fields, bumping version and
	// updated_at. Returns domain.ErrConflict when the stored version does
	// not match r.Version.
	SaveRun(ctx context.Context, r *run.Run) (*run.Run, error)

	// Settings
	GetSettings(ctx context.Context) (*settings.Settings, error)
	SaveSettings(ctx context.Context, req *settings.UpdateRequest) (*settings.Settings, error)
}
