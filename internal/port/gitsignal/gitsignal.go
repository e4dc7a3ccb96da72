// Package gitsignal defines the branch and pull-request signal ports: the
// two read-only GitHub-backed observation sources a run reconciles against.
package gitsignal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skarsol/convoy/internal/domain/run"
)

// BranchRef identifies a branch to observe.
type BranchRef struct {
	Owner  string
	Repo   string
	Branch string
}

// PRRef identifies a pull request to observe.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// RepoCheck reports whether a repository a user wants to link is reachable
// with the configured credentials.
type RepoCheck struct {
	Accessible bool   `json:"accessible"`
	Private    bool   `json:"private"`
	FullName   string `json:"full_name,omitempty"`
}

// BranchClient observes the state of an agent's working branch.
type BranchClient interface {
	// Status reports branch existence, head commit, and any open PR
	// discovered for the branch.
	Status(ctx context.Context, ref BranchRef) (*run.BranchSignal, error)

	// CheckRepo reports whether the repository exists and is accessible.
	// A not-found response is an inaccessible repo, not an error.
	CheckRepo(ctx context.Context, owner, repo string) (*RepoCheck, error)
}

// ParsePRURL extracts a PRRef from a GitHub pull request URL of the form
// https://github.com/owner/repo/pull/123.
func ParsePRURL(url string) (PRRef, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(url), "/")
	var path string
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		if strings.HasPrefix(trimmed, prefix) {
			path = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}
	parts := strings.Split(path, "/")
	if len(parts) != 4 || parts[2] != "pull" {
		return PRRef{}, fmt.Errorf("invalid pull request URL %q", url)
	}
	number, err := strconv.Atoi(parts[3])
	if err != nil {
		return PRRef{}, fmt.Errorf("invalid pull request URL %q: %w", url, err)
	}
	return PRRef{Owner: parts[0], Repo: parts[1], Number: number}, nil
}

// PRDetails carries presentation-only PR data (diff stats and patch); the
// state machine never reads it.
type PRDetails struct {
	Title        string     `json:"title"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	Patch        string     `json:"patch,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// PullRequestClient observes the state of a pull request.
type PullRequestClient interface {
	// Status reports merged/closed facts for the PR.
	Status(ctx context.Context, ref PRRef) (*run.PRSignal, error)

	// Details returns diff stats and patch text for presentation.
	Details(ctx context.Context, ref PRRef) (*PRDetails, error)
}
