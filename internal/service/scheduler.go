package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/port/database"
)

// Scheduler owns one polling loop per (run, signal source). Loops are
// started and stopped from the run's current state: agent polling while an
// agent is attached, branch polling until a PR is known (or again while the
// run waits for a push), PR polling until the merge fact lands. All loops
// stop at terminal states.
type Scheduler struct {
	reconcile *ReconcileService
	store     database.Store
	cfg       *config.Reconcile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*pollTask // "<runID>/<source>" -> task
}

type pollTask struct {
	cancel   context.CancelFunc
	interval time.Duration
}

// NewScheduler creates a Scheduler.
func NewScheduler(reconcile *ReconcileService, store database.Store, cfg *config.Reconcile) *Scheduler {
	return &Scheduler{
		reconcile: reconcile,
		store:     store,
		cfg:       cfg,
		tasks:     make(map[string]*pollTask),
	}
}

// Start resumes polling for all active runs. Run state lives in the
// database, so a restart picks up exactly where the previous process left
// off.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.ResumeActive(ctx); err != nil {
		return err
	}
	slog.Info("scheduler started", "active_loops", s.ActiveLoops())
	return nil
}

// ResumeActive reconciles polling loops for every active run. Besides
// startup, it runs after a credential save: loops that stopped on a missing
// credential come back once the client is configured again.
func (s *Scheduler) ResumeActive(ctx context.Context) error {
	runs, err := s.store.ListActiveRuns(ctx)
	if err != nil {
		return err
	}
	for i := range runs {
		s.EnsureRun(&runs[i])
	}
	return nil
}

// Stop cancels all polling loops and waits for them to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.tasks = make(map[string]*pollTask)
	s.mu.Unlock()
}

// EnsureRun reconciles the set of live polling loops with what the run's
// current state calls for. Safe to call after every mutation.
func (s *Scheduler) EnsureRun(r *run.Run) {
	if s.ctx == nil {
		return
	}

	terminal := r.Terminal()

	s.ensure(r.ID, "agent", !terminal && r.AgentID != "", s.cfg.AgentInterval, s.reconcile.PollAgent)

	branchInterval := s.cfg.BranchInterval
	if r.Waiting() {
		branchInterval = s.cfg.WaitingInterval
	}
	wantBranch := !terminal && r.BranchName != "" && (r.PRURL == "" || r.Waiting())
	s.ensure(r.ID, "branch", wantBranch, branchInterval, s.pollBranch)

	wantPR := !terminal && r.PRURL != "" && !r.PRMerged
	s.ensure(r.ID, "pr", wantPR, s.cfg.PRInterval, s.reconcile.PollPR)
}

// pollBranch also expires overdue waiting mode, since the branch loop is
// the one running at the waiting cadence.
func (s *Scheduler) pollBranch(ctx context.Context, runID string) error {
	if err := s.reconcile.ExpireWaiting(ctx, runID); err != nil {
		slog.Warn("expire waiting", "run_id", runID, "error", err)
	}
	return s.reconcile.PollBranch(ctx, runID)
}

// ensure starts, restarts (on cadence change), or stops one polling loop.
func (s *Scheduler) ensure(runID, source string, want bool, interval time.Duration, poll func(context.Context, string) error) {
	key := runID + "/" + source

	s.mu.Lock()
	defer s.mu.Unlock()

	task, running := s.tasks[key]
	if running && (!want || task.interval != interval) {
		task.cancel()
		delete(s.tasks, key)
		running = false
	}
	if !want || running {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &pollTask{cancel: cancel, interval: interval}
	s.tasks[key] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := poll(ctx, runID)
				if err == nil {
					continue
				}
				// A missing credential is permanent for this source;
				// ticking against it is noise. The loop comes back via
				// ResumeActive when the credential is saved.
				if errors.Is(err, domain.ErrNotConnected) {
					slog.Info("poll loop parked: credential not configured",
						"run_id", runID, "source", source)
					s.drop(key, t)
					return
				}
				slog.Debug("poll cycle failed", "run_id", runID, "source", source, "error", err)
			}
		}
	}()
}

// drop removes one task, unless it was already replaced.
func (s *Scheduler) drop(key string, t *pollTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[key]; ok && cur == t {
		cur.cancel()
		delete(s.tasks, key)
	}
}

// StopRun cancels all polling loops for one run.
func (s *Scheduler) StopRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, source := range []string{"agent", "branch", "pr"} {
		key := runID + "/" + source
		if task, ok := s.tasks[key]; ok {
			task.cancel()
			delete(s.tasks, key)
		}
	}
}

// ActiveLoops returns the number of live polling loops.
func (s *Scheduler) ActiveLoops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
