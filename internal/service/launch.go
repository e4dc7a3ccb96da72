package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/skarsol/convoy/internal/adapter/otel"
	"github.com/skarsol/convoy/internal/config"
	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/port/agentclient"
	"github.com/skarsol/convoy/internal/port/database"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateBranchName builds a conventional branch name for an agent:
// "feat/<repo slug>-<6 hex>". The random suffix keeps retries for the same
// repo from colliding.
func GenerateBranchName(repoName string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(repoName), "-"), "-")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("feat/%s-%s", slug, suffix)
}

const promptTemplate = `# Rollout Task

## Implementation Guide
%s

## Target Repository: %s

### GitHub Repositories
%s

### Repository Instructions
%s

### Custom Instructions for This Rollout
%s

## Your Task

**IMPORTANT: Before making any changes, first check if the changes described in the implementation guide have already been implemented in the codebase.** Search for the relevant code patterns, function names, or features mentioned in the guide. If the changes are already present and complete, report that no changes are needed and end the task without modifying any files.

If the changes have NOT been made yet, proceed with the implementation:
1. Apply the changes described in the implementation guide to this repository
2. Follow the repository-specific instructions carefully
3. If you need clarification on any aspect of the change, ask a clear question and wait for a response before proceeding

## Code Style Requirements

**Keep edits extremely minimal, focused, and to the point.** Follow these principles:
- Only change what is strictly necessary to implement the requested feature
- Match the existing code style, patterns, and conventions of the project
- When adding parameters, functions, or fields, keep them consistent with similar existing code
- Do NOT create extraneous examples, READMEs, documentation files, or test files unless explicitly requested
- Do NOT refactor, reorganize, or "improve" code that is unrelated to the task
- Do NOT add extra error handling, validation, or features beyond what was requested
- Aim for changes that fit seamlessly into the codebase as if a team member wrote them

**CRITICAL: When you're done, you MUST push your changes to the following branch: ` + "`%s`" + `**. Push to this exact branch name. Do not end the task until the branch has been pushed.
`

// BuildPrompt assembles the agent prompt for one run.
func BuildPrompt(u *update.Update, rp *repo.Repo, branchName, customInstructions string) string {
	guide := u.ImplementationGuide
	if guide == "" {
		guide = "No implementation guide provided."
	}

	links := "No GitHub links provided"
	if len(rp.GitHubLinks) > 0 {
		var b strings.Builder
		for i, link := range rp.GitHubLinks {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + link)
		}
		links = b.String()
	}

	instructions := rp.Instructions
	if instructions == "" {
		instructions = "No specific instructions."
	}

	custom := customInstructions
	if custom == "" {
		custom = "No additional instructions for this rollout."
	}

	return fmt.Sprintf(promptTemplate, guide, rp.Name, links, instructions, custom, branchName)
}

// LaunchService starts agents for runs.
type LaunchService struct {
	store     database.Store
	clients   *Clients
	reconcile *ReconcileService
	metrics   *otel.Metrics
	parallel  int64
}

// NewLaunchService creates a LaunchService.
func NewLaunchService(store database.Store, clients *Clients, reconcile *ReconcileService, cfg *config.Reconcile) *LaunchService {
	parallel := int64(cfg.LaunchParallel)
	if parallel < 1 {
		parallel = 1
	}
	return &LaunchService{
		store:     store,
		clients:   clients,
		reconcile: reconcile,
		parallel:  parallel,
	}
}

// SetMetrics attaches metric instruments.
func (s *LaunchService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// StartAll launches agents for every run of the update that has no agent
// yet. Launch failures are recorded on the run as an open question instead
// of aborting the whole rollout; runs whose repo has no GitHub link are
// skipped. Returns the agent IDs that were launched.
func (s *LaunchService) StartAll(ctx context.Context, updateID string) ([]string, error) {
	u, err := s.store.GetUpdate(ctx, updateID)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRunsByUpdate(ctx, updateID)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(s.parallel)
	var (
		mu       sync.Mutex
		agentIDs []string
		wg       sync.WaitGroup
	)

	for i := range runs {
		r := runs[i]
		if r.AgentID != "" || r.Terminal() {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			agentID, err := s.StartOne(ctx, u, r.ID)
			if err != nil {
				slog.Error("start agent", "run_id", r.ID, "error", err)
				return
			}
			if agentID != "" {
				mu.Lock()
				agentIDs = append(agentIDs, agentID)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return agentIDs, nil
}

// StartOne launches an agent for one run. Returns the agent ID, or "" when
// the run was skipped for having no usable repository.
func (s *LaunchService) StartOne(ctx context.Context, u *update.Update, runID string) (string, error) {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if r.AgentID != "" || r.Terminal() {
		return "", nil
	}

	rp, err := s.store.GetRepo(ctx, r.RepoID)
	if err != nil {
		return "", err
	}

	ctx, span := otel.StartLaunchSpan(ctx, r.ID, r.RepoID)
	defer span.End()

	if rp.PrimaryLink() == "" {
		// Nothing to launch against; take the run out of the rollout.
		return "", s.reconcile.merge(ctx, r.ID, run.SourceAgent, func(r *run.Run) bool {
			if r.Status == run.StatusSkipped {
				return false
			}
			r.SetStatusManual(run.StatusSkipped)
			return true
		})
	}

	client, err := s.clients.Agent()
	if err != nil {
		return "", err
	}

	branchName := GenerateBranchName(rp.Name)
	prompt := BuildPrompt(u, rp, branchName, r.CustomInstructions)

	agentID, launchErr := client.Launch(ctx, &agentclient.LaunchRequest{
		Repository:   rp.PrimaryLink(),
		Prompt:       prompt,
		BranchName:   branchName,
		AutoCreatePR: r.AutoPR(u.AutoCreatePR),
	})
	if launchErr != nil {
		// Surface the failure where the operator will see it.
		mergeErr := s.reconcile.merge(ctx, r.ID, run.SourceAgent, func(r *run.Run) bool {
			r.AgentQuestion = "Failed to start agent: " + launchErr.Error()
			r.Status = run.StatusNeedsReview
			return true
		})
		if mergeErr != nil {
			slog.Error("record launch failure", "run_id", r.ID, "error", mergeErr)
		}
		return "", fmt.Errorf("launch agent for run %s: %w", r.ID, launchErr)
	}

	err = s.reconcile.merge(ctx, r.ID, run.SourceAgent, func(r *run.Run) bool {
		r.AgentID = agentID
		r.BranchName = branchName
		if r.Status == run.StatusPending {
			r.Status = run.StatusInProgress
		}
		return true
	})
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.AgentsLaunched.Add(ctx, 1)
	}
	slog.Info("agent launched", "run_id", r.ID, "agent_id", agentID, "branch", branchName)
	return agentID, nil
}
