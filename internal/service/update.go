package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/port/database"
)

// UpdateService manages updates and their per-repo runs.
type UpdateService struct {
	store     database.Store
	launch    *LaunchService
	scheduler *Scheduler
}

// NewUpdateService creates an UpdateService.
func NewUpdateService(store database.Store, launch *LaunchService, scheduler *Scheduler) *UpdateService {
	return &UpdateService{
		store:     store,
		launch:    launch,
		scheduler: scheduler,
	}
}

// List returns all updates, newest first.
func (s *UpdateService) List(ctx context.Context) ([]update.Update, error) {
	return s.store.ListUpdates(ctx)
}

// Get returns one update.
func (s *UpdateService) Get(ctx context.Context, id string) (*update.Update, error) {
	return s.store.GetUpdate(ctx, id)
}

// Create creates an update, one run per selected repo, and launches agents
// for all of them. An empty repo selection means every known repo.
func (s *UpdateService) Create(ctx context.Context, req *update.CreateRequest) (*update.Update, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if len(req.SelectedRepoIDs) == 0 {
		repos, err := s.store.ListRepos(ctx)
		if err != nil {
			return nil, fmt.Errorf("list repos: %w", err)
		}
		for i := range repos {
			req.SelectedRepoIDs = append(req.SelectedRepoIDs, repos[i].ID)
		}
	}
	if len(req.SelectedRepoIDs) == 0 {
		return nil, fmt.Errorf("%w: no repos to roll out to", domain.ErrValidation)
	}

	u, err := s.store.CreateUpdate(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, repoID := range req.SelectedRepoIDs {
		r := &run.Run{
			UpdateID:           u.ID,
			RepoID:             repoID,
			Status:             run.StatusPending,
			CustomInstructions: req.RepoInstructions[repoID],
		}
		if _, err := s.store.CreateRun(ctx, r); err != nil {
			return nil, fmt.Errorf("create run for repo %s: %w", repoID, err)
		}
	}

	// Launch in the background: agent provisioning is slow and the client
	// already has the update to render. Run state flows over the socket.
	go func() {
		ctx := context.Background()
		if _, err := s.launch.StartAll(ctx, u.ID); err != nil {
			slog.Error("start agents for update", "update_id", u.ID, "error", err)
		}
		s.resumePolling(ctx, u.ID)
	}()

	slog.Info("update created", "update_id", u.ID, "repos", len(req.SelectedRepoIDs))
	return u, nil
}

// StartAgents launches agents for runs of the update that still have none.
func (s *UpdateService) StartAgents(ctx context.Context, id string) ([]string, error) {
	if _, err := s.store.GetUpdate(ctx, id); err != nil {
		return nil, err
	}
	agentIDs, err := s.launch.StartAll(ctx, id)
	if err != nil {
		return nil, err
	}
	s.resumePolling(ctx, id)
	return agentIDs, nil
}

// Delete removes an update and all its runs.
func (s *UpdateService) Delete(ctx context.Context, id string) error {
	runs, err := s.store.ListRunsByUpdate(ctx, id)
	if err != nil {
		return err
	}
	for i := range runs {
		s.scheduler.StopRun(runs[i].ID)
	}
	return s.store.DeleteUpdate(ctx, id)
}

func (s *UpdateService) resumePolling(ctx context.Context, updateID string) {
	runs, err := s.store.ListRunsByUpdate(ctx, updateID)
	if err != nil {
		slog.Error("resume polling", "update_id", updateID, "error", err)
		return
	}
	for i := range runs {
		s.scheduler.EnsureRun(&runs[i])
	}
}
