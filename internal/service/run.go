package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skarsol/convoy/internal/adapter/otel"
	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/port/database"
	"github.com/skarsol/convoy/internal/port/gitsignal"
)

// RunService serves run reads and the manual surface: follow-ups, stop,
// quick actions, and field overrides.
type RunService struct {
	store     database.Store
	clients   *Clients
	reconcile *ReconcileService
	overlay   *Overlay
	metrics   *otel.Metrics

	// syncGroup deduplicates concurrent manual syncs per run.
	syncGroup singleflight.Group
}

// NewRunService creates a RunService.
func NewRunService(store database.Store, clients *Clients, reconcile *ReconcileService, overlay *Overlay) *RunService {
	return &RunService{
		store:     store,
		clients:   clients,
		reconcile: reconcile,
		overlay:   overlay,
	}
}

// SetMetrics attaches metric instruments.
func (s *RunService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// Get returns one run.
func (s *RunService) Get(ctx context.Context, id string) (*run.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListByUpdate returns the runs of an update.
func (s *RunService) ListByUpdate(ctx context.Context, updateID string) ([]run.Run, error) {
	return s.store.ListRunsByUpdate(ctx, updateID)
}

// Conversation returns the run's conversation with the optimistic pending
// overlay applied.
func (s *RunService) Conversation(ctx context.Context, id string) ([]run.Message, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.overlay.View(r.ID, r.Conversation), nil
}

// Followup sends a follow-up instruction to the run's agent. The message is
// buffered optimistically, the open question is cleared, and the run enters
// waiting mode: the conversation is not refetched until the branch head
// moves off the commit recorded here.
func (s *RunService) Followup(ctx context.Context, id, text string) (run.Message, error) {
	if text == "" {
		return run.Message{}, fmt.Errorf("%w: followup text is required", domain.ErrValidation)
	}

	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return run.Message{}, err
	}
	if r.Terminal() {
		return run.Message{}, fmt.Errorf("followup run %s: %w", id, domain.ErrTerminal)
	}
	if r.AgentID == "" {
		return run.Message{}, fmt.Errorf("%w: run has no agent", domain.ErrValidation)
	}

	client, err := s.clients.Agent()
	if err != nil {
		return run.Message{}, err
	}
	if err := client.Followup(ctx, r.AgentID, text); err != nil {
		return run.Message{}, fmt.Errorf("send followup: %w", err)
	}

	msg := s.overlay.Add(r.ID, text)

	now := time.Now()
	err = s.reconcile.merge(ctx, id, run.SourceAgent, func(r *run.Run) bool {
		r.AgentQuestion = ""
		r.BeginWaiting(now)
		if r.Status == run.StatusNeedsReview {
			r.Status = run.StatusInProgress
		}
		return true
	})
	if err != nil {
		return run.Message{}, err
	}
	return msg, nil
}

// Stop cancels the run's agent and, once the provider acknowledges, merges
// the cancellation immediately so observers never see a stopped agent on a
// run still reported as running.
func (s *RunService) Stop(ctx context.Context, id string) error {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if r.Terminal() {
		return fmt.Errorf("stop run %s: %w", id, domain.ErrTerminal)
	}
	if r.AgentID == "" {
		return fmt.Errorf("%w: run has no agent", domain.ErrValidation)
	}

	client, err := s.clients.Agent()
	if err != nil {
		return err
	}
	if err := client.Stop(ctx, r.AgentID); err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	return s.reconcile.MergeAgent(ctx, id, &run.AgentSignal{State: run.AgentStopped})
}

// ApplyAction executes a quick action against the run.
func (s *RunService) ApplyAction(ctx context.Context, id string, action run.Action) (*run.Run, error) {
	ctx, span := otel.StartOverrideSpan(ctx, id, string(action))
	defer span.End()

	now := time.Now()
	var actionErr error
	err := s.reconcile.merge(ctx, id, run.SourceManual, func(r *run.Run) bool {
		if actionErr = r.ApplyAction(action, now); actionErr != nil {
			return false
		}
		return true
	})
	if actionErr != nil {
		return nil, actionErr
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Overrides.Add(ctx, 1)
	}
	return s.store.GetRun(ctx, id)
}

// PatchRequest carries manual field overrides. Nil fields are untouched.
type PatchRequest struct {
	Status       *string `json:"status,omitempty"`
	BranchName   *string `json:"branch_name,omitempty"`
	PRURL        *string `json:"pr_url,omitempty"`
	AutoCreatePR *bool   `json:"auto_create_pr,omitempty"`
}

// Patch applies manual field overrides. Every overridden field is pinned
// against future automatic writes.
func (s *RunService) Patch(ctx context.Context, id string, req *PatchRequest) (*run.Run, error) {
	var status run.Status
	if req.Status != nil {
		var err error
		status, err = run.ParseStatus(*req.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}

	err := s.reconcile.merge(ctx, id, run.SourceManual, func(r *run.Run) bool {
		changed := false
		if req.Status != nil && r.Status != status {
			r.SetStatusManual(status)
			changed = true
		}
		if req.BranchName != nil && r.BranchName != *req.BranchName {
			r.SetBranchNameManual(*req.BranchName)
			changed = true
		}
		if req.PRURL != nil && r.PRURL != *req.PRURL {
			r.SetPRURLManual(*req.PRURL)
			changed = true
		}
		if req.AutoCreatePR != nil {
			r.AutoCreatePR = req.AutoCreatePR
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Overrides.Add(ctx, 1)
	}
	return s.store.GetRun(ctx, id)
}

// Sync forces an immediate poll of every applicable signal source for the
// run. Concurrent syncs of the same run coalesce into one.
func (s *RunService) Sync(ctx context.Context, id string) (*run.Run, error) {
	_, err, _ := s.syncGroup.Do(id, func() (any, error) {
		r, err := s.store.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Terminal() {
			return nil, nil
		}

		if r.AgentID != "" {
			if err := s.reconcile.PollAgent(ctx, id); err != nil {
				slog.Warn("manual sync: agent poll", "run_id", id, "error", err)
			}
		}
		if r.BranchName != "" {
			if err := s.reconcile.PollBranch(ctx, id); err != nil {
				slog.Warn("manual sync: branch poll", "run_id", id, "error", err)
			}
		}

		// Reload: the branch poll may have just discovered the PR.
		r, err = s.store.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.PRURL != "" && !r.Terminal() {
			if err := s.reconcile.PollPR(ctx, id); err != nil {
				slog.Warn("manual sync: pr poll", "run_id", id, "error", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetRun(ctx, id)
}

// PRDetails returns diff stats and patch text for the run's pull request.
func (s *RunService) PRDetails(ctx context.Context, id string) (*gitsignal.PRDetails, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.PRURL == "" {
		return nil, fmt.Errorf("run %s has no pull request: %w", id, domain.ErrNotFound)
	}

	ref, err := gitsignal.ParsePRURL(r.PRURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	client, err := s.clients.PullRequests()
	if err != nil {
		return nil, err
	}
	return client.Details(ctx, ref)
}
