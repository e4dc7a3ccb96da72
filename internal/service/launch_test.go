package service_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/domain/update"
	"github.com/skarsol/convoy/internal/service"
)

func newLaunchService(f *fixture) *service.LaunchService {
	return service.NewLaunchService(f.store, f.clients, f.reconcile, &f.cfg)
}

func TestGenerateBranchName(t *testing.T) {
	name := service.GenerateBranchName("My Widgets Repo!")
	if !regexp.MustCompile(`^feat/my-widgets-repo-[0-9a-f]{6}$`).MatchString(name) {
		t.Errorf("branch name = %q", name)
	}
	if service.GenerateBranchName("x") == service.GenerateBranchName("x") {
		t.Error("branch names for the same repo should not collide")
	}
}

func TestBuildPrompt(t *testing.T) {
	u := &update.Update{Title: "Bump deps", ImplementationGuide: "Upgrade the HTTP client to v2."}
	rp := &repo.Repo{
		Name:         "widgets",
		GitHubLinks:  []string{"https://github.com/acme/widgets"},
		Instructions: "Run make generate after edits.",
	}

	prompt := service.BuildPrompt(u, rp, "feat/widgets-abc123", "skip the examples dir")
	for _, want := range []string{
		"Upgrade the HTTP client to v2.",
		"widgets",
		"- https://github.com/acme/widgets",
		"Run make generate after edits.",
		"skip the examples dir",
		"`feat/widgets-abc123`",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestStartOneLaunchesAgent(t *testing.T) {
	f := newFixture()
	f.seedRun(&run.Run{ID: "r1", Status: run.StatusPending})
	f.agent.launchID = "bc_42"
	svc := newLaunchService(f)

	u, _ := f.store.GetUpdate(context.Background(), "u1")
	agentID, err := svc.StartOne(context.Background(), u, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "bc_42" {
		t.Errorf("agent id = %q", agentID)
	}

	r, _ := f.store.GetRun(context.Background(), "r1")
	if r.AgentID != "bc_42" || r.BranchName == "" || r.Status != run.StatusInProgress {
		t.Errorf("run after launch: %+v", r)
	}
	if len(f.agent.launches) != 1 {
		t.Fatalf("launches = %d", len(f.agent.launches))
	}
	req := f.agent.launches[0]
	if req.Repository != "https://github.com/acme/widgets" {
		t.Errorf("repository = %q", req.Repository)
	}
	if req.BranchName != r.BranchName {
		t.Errorf("launch branch %q != run branch %q", req.BranchName, r.BranchName)
	}
	if !strings.Contains(req.Prompt, req.BranchName) {
		t.Error("prompt does not name the push branch")
	}
}

func TestStartOneSkipsRepoWithoutLink(t *testing.T) {
	f := newFixture()
	f.seedRun(&run.Run{ID: "r1", Status: run.StatusPending})
	f.store.putRepo(&repo.Repo{ID: "repo1", Name: "widgets"}) // no links
	svc := newLaunchService(f)

	u, _ := f.store.GetUpdate(context.Background(), "u1")
	agentID, err := svc.StartOne(context.Background(), u, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "" {
		t.Errorf("agent id = %q, want none", agentID)
	}

	r, _ := f.store.GetRun(context.Background(), "r1")
	if r.Status != run.StatusSkipped {
		t.Errorf("status = %q, want skipped", r.Status)
	}
}

func TestStartOneRecordsLaunchFailure(t *testing.T) {
	f := newFixture()
	f.seedRun(&run.Run{ID: "r1", Status: run.StatusPending})
	f.agent.launchErr = errors.New("quota exceeded")
	svc := newLaunchService(f)

	u, _ := f.store.GetUpdate(context.Background(), "u1")
	if _, err := svc.StartOne(context.Background(), u, "r1"); err == nil {
		t.Fatal("expected launch error")
	}

	r, _ := f.store.GetRun(context.Background(), "r1")
	if r.Status != run.StatusNeedsReview {
		t.Errorf("status = %q, want needs_review", r.Status)
	}
	if !strings.Contains(r.AgentQuestion, "quota exceeded") {
		t.Errorf("question = %q", r.AgentQuestion)
	}
	// The failure is recorded as a plain write, not a pin: a later retry
	// that succeeds must be able to advance the status again.
	if r.PinnedField(run.FieldStatus) {
		t.Error("launch failure pinned the status")
	}
}

func TestStartOneIdempotent(t *testing.T) {
	f := newFixture()
	f.seedRun(&run.Run{ID: "r1", Status: run.StatusInProgress, AgentID: "bc_1"})
	svc := newLaunchService(f)

	u, _ := f.store.GetUpdate(context.Background(), "u1")
	agentID, err := svc.StartOne(context.Background(), u, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if agentID != "" || len(f.agent.launches) != 0 {
		t.Error("run with an agent was launched again")
	}
}

func TestStartAllLaunchesOnlyAgentlessRuns(t *testing.T) {
	f := newFixture()
	f.seedRun(&run.Run{ID: "r1", UpdateID: "u1", RepoID: "repo1", Status: run.StatusPending})
	f.store.putRepo(&repo.Repo{ID: "repo2", Name: "docs", GitHubLinks: []string{"https://github.com/acme/docs"}})
	f.store.putRun(&run.Run{ID: "r2", UpdateID: "u1", RepoID: "repo2", Status: run.StatusPending})
	f.store.putRun(&run.Run{ID: "r3", UpdateID: "u1", RepoID: "repo1", Status: run.StatusInProgress, AgentID: "bc_old"})
	svc := newLaunchService(f)

	agentIDs, err := svc.StartAll(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(agentIDs) != 2 {
		t.Errorf("launched %d agents, want 2", len(agentIDs))
	}
}
