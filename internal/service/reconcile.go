package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skarsol/convoy/internal/adapter/otel"
	"github.com/skarsol/convoy/internal/adapter/ws"
	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/port/broadcast"
	"github.com/skarsol/convoy/internal/port/database"
	"github.com/skarsol/convoy/internal/port/gitsignal"
	"github.com/skarsol/convoy/internal/port/messagequeue"
)

// saveRetries bounds optimistic-lock retry loops on concurrent merges.
const saveRetries = 3

// ReconcileService merges observations from the three signal sources and
// manual actions into run records. All mutations to one run are serialized
// through a per-run lock; each source is merged independently, so one
// source's staleness never blocks another.
type ReconcileService struct {
	store   database.Store
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	clients *Clients
	overlay *Overlay
	metrics *otel.Metrics
	cfg     *config.Reconcile

	// onRunChanged lets the scheduler re-evaluate which pollers a run
	// still needs after an accepted mutation.
	onRunChanged func(r *run.Run)

	locks sync.Map // run ID -> *sync.Mutex
}

// NewReconcileService creates a ReconcileService.
func NewReconcileService(
	store database.Store,
	queue messagequeue.Queue,
	hub broadcast.Broadcaster,
	clients *Clients,
	overlay *Overlay,
	cfg *config.Reconcile,
) *ReconcileService {
	return &ReconcileService{
		store:   store,
		queue:   queue,
		hub:     hub,
		clients: clients,
		overlay: overlay,
		cfg:     cfg,
	}
}

// SetMetrics attaches metric instruments.
func (s *ReconcileService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetOnRunChanged registers a callback invoked after every accepted mutation.
func (s *ReconcileService) SetOnRunChanged(fn func(r *run.Run)) {
	s.onRunChanged = fn
}

func (s *ReconcileService) lockRun(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// PollAgent fetches the agent's status (and, unless the run is in waiting
// mode, its conversation) and merges the observation.
func (s *ReconcileService) PollAgent(ctx context.Context, runID string) error {
	return s.pollAgent(ctx, runID, false)
}

// PollAgentFresh fetches the conversation even while the run is in waiting
// mode. Webhook deliveries use it: the provider just told us something
// changed, and a conversation that now carries the assistant's reply ends
// waiting mode without a branch observation.
func (s *ReconcileService) PollAgentFresh(ctx context.Context, runID string) error {
	return s.pollAgent(ctx, runID, true)
}

func (s *ReconcileService) pollAgent(ctx context.Context, runID string, fresh bool) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.AgentID == "" || r.Terminal() {
		return nil
	}

	client, err := s.clients.Agent()
	if err != nil {
		return err
	}

	sig, err := client.Status(ctx, r.AgentID)
	if err != nil {
		s.pollFailed(ctx, "agent", runID, err)
		return err
	}

	// Waiting mode gates the conversation refetch: until the branch head
	// moves off the recorded commit, the provider's conversation may still
	// predate the follow-up and must not overwrite the view.
	if fresh || !r.Waiting() {
		messages, err := client.Conversation(ctx, r.AgentID)
		if err != nil {
			s.pollFailed(ctx, "agent", runID, err)
			return err
		}
		sig.Messages = messages
		sig.Question = run.DetectQuestion(messages)
	}

	return s.MergeAgent(ctx, runID, sig)
}

// PollBranch fetches the working branch state and merges the observation.
func (s *ReconcileService) PollBranch(ctx context.Context, runID string) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.BranchName == "" || r.Terminal() {
		return nil
	}

	repoRec, err := s.store.GetRepo(ctx, r.RepoID)
	if err != nil {
		return err
	}
	owner, name, err := parseRepoLink(repoRec.PrimaryLink())
	if err != nil {
		return err
	}

	client, err := s.clients.Branches()
	if err != nil {
		return err
	}

	sig, err := client.Status(ctx, gitsignal.BranchRef{Owner: owner, Repo: name, Branch: r.BranchName})
	if err != nil {
		s.pollFailed(ctx, "branch", runID, err)
		return err
	}
	return s.MergeBranch(ctx, runID, sig)
}

// PollPR fetches the pull request state and merges the observation.
func (s *ReconcileService) PollPR(ctx context.Context, runID string) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.PRURL == "" || r.Terminal() {
		return nil
	}

	ref, err := gitsignal.ParsePRURL(r.PRURL)
	if err != nil {
		return err
	}

	client, err := s.clients.PullRequests()
	if err != nil {
		return err
	}

	sig, err := client.Status(ctx, ref)
	if err != nil {
		s.pollFailed(ctx, "pr", runID, err)
		return err
	}
	return s.MergePR(ctx, runID, sig)
}

// MergeAgent merges an agent-source observation into the run.
func (s *ReconcileService) MergeAgent(ctx context.Context, runID string, sig *run.AgentSignal) error {
	return s.merge(ctx, runID, run.SourceAgent, func(r *run.Run) bool {
		return r.ApplyAgent(*sig)
	})
}

// MergeBranch merges a branch-source observation into the run.
func (s *ReconcileService) MergeBranch(ctx context.Context, runID string, sig *run.BranchSignal) error {
	return s.merge(ctx, runID, run.SourceBranch, func(r *run.Run) bool {
		return r.ApplyBranch(*sig)
	})
}

// MergePR merges a pull-request-source observation into the run.
func (s *ReconcileService) MergePR(ctx context.Context, runID string, sig *run.PRSignal) error {
	return s.merge(ctx, runID, run.SourcePR, func(r *run.Run) bool {
		return r.ApplyPR(*sig)
	})
}

// ExpireWaiting ends waiting mode for runs whose branch never moved within
// the configured timeout, so a lost push can't park a run forever.
func (s *ReconcileService) ExpireWaiting(ctx context.Context, runID string) error {
	return s.merge(ctx, runID, run.SourceBranch, func(r *run.Run) bool {
		if !r.Waiting() || r.AwaitingSince == nil {
			return false
		}
		if time.Since(*r.AwaitingSince) < s.cfg.WaitTimeout {
			return false
		}
		slog.Warn("waiting mode timed out", "run_id", r.ID, "awaiting_sha", r.AwaitingSHA)
		if s.metrics != nil {
			s.metrics.WaitingDuration.Record(ctx, time.Since(*r.AwaitingSince).Seconds())
		}
		r.EndWaiting()
		return true
	})
}

// merge loads the run, applies fn under the per-run lock, and persists when
// fn reports a change. Lost optimistic-lock races reload and reapply; the
// pure apply functions make that safe.
func (s *ReconcileService) merge(ctx context.Context, runID string, source run.Source, fn func(*run.Run) bool) error {
	unlock := s.lockRun(runID)
	defer unlock()

	ctx, span := otel.StartMergeSpan(ctx, runID, source.String())
	defer span.End()
	start := time.Now()

	for attempt := 0; attempt < saveRetries; attempt++ {
		r, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}

		if !fn(r) {
			if s.metrics != nil {
				s.metrics.SignalsNoop.Add(ctx, 1)
			}
			return nil
		}

		saved, err := s.store.SaveRun(ctx, r)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return err
		}

		if s.metrics != nil {
			s.metrics.SignalsMerged.Add(ctx, 1)
			s.metrics.MergeDuration.Record(ctx, time.Since(start).Seconds())
		}
		s.announce(ctx, saved, source.String())
		return nil
	}
	return fmt.Errorf("merge run %s: %w", runID, domain.ErrConflict)
}

// announce publishes an accepted mutation to NATS and the WebSocket hub,
// reconciles the overlay, rolls up the parent update, and lets the
// scheduler re-evaluate the run's pollers.
func (s *ReconcileService) announce(ctx context.Context, r *run.Run, source string) {
	s.overlay.Reconcile(r.ID, r.Conversation)
	if r.Terminal() {
		s.overlay.Clear(r.ID)
	}

	payload, err := json.Marshal(messagequeue.RunChangedPayload{
		RunID:    r.ID,
		UpdateID: r.UpdateID,
		Status:   string(r.Status),
		Source:   source,
	})
	if err == nil {
		if err := s.queue.Publish(ctx, messagequeue.SubjectRunChanged, payload); err != nil {
			slog.Error("publish run changed", "run_id", r.ID, "error", err)
		}
	}

	s.hub.BroadcastEvent(ctx, ws.EventRunChanged, ws.RunChangedEvent{Run: r, Source: source})

	if err := s.rollupUpdate(ctx, r.UpdateID); err != nil {
		slog.Error("rollup update status", "update_id", r.UpdateID, "error", err)
	}

	if s.onRunChanged != nil {
		s.onRunChanged(r)
	}

	slog.Info("run changed", "run_id", r.ID, "status", r.Status, "source", source)
}

// rollupUpdate marks the update completed when every run has landed in
// complete, skipped, or ready_to_merge, and reverts to in_progress when one
// resumes. Cancelled is not landed: a cancelled run holds the update open
// until the operator resolves it.
func (s *ReconcileService) rollupUpdate(ctx context.Context, updateID string) error {
	runs, err := s.store.ListRunsByUpdate(ctx, updateID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	done := true
	for i := range runs {
		switch runs[i].Status {
		case run.StatusComplete, run.StatusSkipped, run.StatusReadyToMerge:
		default:
			done = false
		}
		if !done {
			break
		}
	}

	u, err := s.store.GetUpdate(ctx, updateID)
	if err != nil {
		return err
	}

	target := update.StatusInProgress
	if done {
		target = update.StatusCompleted
	}
	if u.Status == target {
		return nil
	}

	if err := s.store.UpdateUpdateStatus(ctx, updateID, target); err != nil {
		return err
	}
	s.hub.BroadcastEvent(ctx, ws.EventUpdateStatus, ws.UpdateStatusEvent{
		UpdateID: updateID,
		Status:   string(target),
	})
	return nil
}

// parseRepoLink resolves a repo's primary GitHub link into owner and name.
func parseRepoLink(link string) (owner, name string, err error) {
	if link == "" {
		return "", "", fmt.Errorf("%w: repo has no GitHub link", domain.ErrValidation)
	}
	return repo.ParseGitHubURL(link)
}

func (s *ReconcileService) pollFailed(ctx context.Context, source, runID string, err error) {
	if s.metrics != nil {
		s.metrics.PollFailures.Add(ctx, 1)
	}
	slog.Warn("signal poll failed", "source", source, "run_id", runID, "error", err)
}
