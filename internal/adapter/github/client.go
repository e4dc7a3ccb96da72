// Package github implements the branch and pull-request signal ports
// against the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/skarsol/convoy/internal/domain/run"
	"github.com/skarsol/convoy/internal/port/cache"
	"github.com/skarsol/convoy/internal/port/gitsignal"
	"github.com/skarsol/convoy/internal/resilience"
)

// Client observes branches and pull requests on GitHub. It serves
// gitsignal.BranchClient directly and gitsignal.PullRequestClient through
// PullRequests().
type Client struct {
	gh       *gh.Client
	breaker  *resilience.Breaker
	cache    cache.Cache
	cacheTTL time.Duration
}

var (
	_ gitsignal.BranchClient      = (*Client)(nil)
	_ gitsignal.PullRequestClient = prView{}
)

// NewClient creates a GitHub signal client authenticated with the given
// personal access token. baseURL overrides the API endpoint for testing;
// empty means api.github.com.
func NewClient(ctx context.Context, token, baseURL string) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	client := gh.NewClient(httpClient)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("set github base url: %w", err)
		}
	}

	return &Client{gh: client}, nil
}

// SetBreaker attaches a circuit breaker to all outgoing API calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetCache attaches a cache for PR details responses.
func (c *Client) SetCache(cc cache.Cache, ttl time.Duration) {
	c.cache = cc
	c.cacheTTL = ttl
}

// Status reports branch existence, head commit, and any open PR discovered
// for the branch.
func (c *Client) Status(ctx context.Context, ref gitsignal.BranchRef) (*run.BranchSignal, error) {
	var sig run.BranchSignal
	err := c.call(func() error {
		branch, resp, err := c.gh.Repositories.GetBranch(ctx, ref.Owner, ref.Repo, ref.Branch, 0)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				sig = run.BranchSignal{Exists: false}
				return nil
			}
			return fmt.Errorf("get branch %s/%s@%s: %w", ref.Owner, ref.Repo, ref.Branch, err)
		}

		sig = run.BranchSignal{
			Exists:    true,
			CommitSHA: branch.GetCommit().GetSHA(),
		}

		prs, _, err := c.gh.PullRequests.List(ctx, ref.Owner, ref.Repo, &gh.PullRequestListOptions{
			State: "open",
			Head:  ref.Owner + ":" + ref.Branch,
		})
		if err != nil {
			return fmt.Errorf("list prs for %s/%s@%s: %w", ref.Owner, ref.Repo, ref.Branch, err)
		}
		if len(prs) > 0 {
			sig.PRURL = prs[0].GetHTMLURL()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// CheckRepo reports whether the repository exists and is reachable with the
// configured token. GitHub answers 404 for both missing and private-without-
// access repos, so not-found maps to inaccessible rather than an error.
func (c *Client) CheckRepo(ctx context.Context, owner, repo string) (*gitsignal.RepoCheck, error) {
	var check gitsignal.RepoCheck
	err := c.call(func() error {
		r, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				check = gitsignal.RepoCheck{Accessible: false}
				return nil
			}
			return fmt.Errorf("check repo %s/%s: %w", owner, repo, err)
		}
		check = gitsignal.RepoCheck{
			Accessible: true,
			Private:    r.GetPrivate(),
			FullName:   r.GetFullName(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// prView serves the PullRequestClient port. Both ports name their lookup
// Status, so the PR side lives on a separate view of the same client.
type prView struct{ c *Client }

// Branches returns the client as a BranchClient.
func (c *Client) Branches() gitsignal.BranchClient { return c }

// PullRequests returns the client as a PullRequestClient.
func (c *Client) PullRequests() gitsignal.PullRequestClient { return prView{c} }

func (v prView) Status(ctx context.Context, ref gitsignal.PRRef) (*run.PRSignal, error) {
	c := v.c
	var sig run.PRSignal
	err := c.call(func() error {
		pr, _, err := c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		if err != nil {
			return fmt.Errorf("get pr %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
		}

		sig = run.PRSignal{
			State:  pr.GetState(),
			Merged: pr.GetMerged(),
			Closed: pr.GetState() == "closed" && !pr.GetMerged(),
		}
		if t := pr.MergedAt; t != nil {
			mt := t.Time
			sig.MergedAt = &mt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (v prView) Details(ctx context.Context, ref gitsignal.PRRef) (*gitsignal.PRDetails, error) {
	c := v.c
	key := fmt.Sprintf("pr-details:%s/%s#%d", ref.Owner, ref.Repo, ref.Number)

	if c.cache != nil {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			var cached gitsignal.PRDetails
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var details gitsignal.PRDetails
	err := c.call(func() error {
		pr, _, err := c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		if err != nil {
			return fmt.Errorf("get pr %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
		}

		patch, _, err := c.gh.PullRequests.GetRaw(ctx, ref.Owner, ref.Repo, ref.Number,
			gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return fmt.Errorf("get pr diff %s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err)
		}

		details = gitsignal.PRDetails{
			Title:        pr.GetTitle(),
			Additions:    pr.GetAdditions(),
			Deletions:    pr.GetDeletions(),
			ChangedFiles: pr.GetChangedFiles(),
			Patch:        patch,
		}
		if t := pr.UpdatedAt; t != nil {
			ut := t.Time
			details.UpdatedAt = &ut
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(details); err == nil {
			_ = c.cache.Set(ctx, key, data, c.cacheTTL)
		}
	}
	return &details, nil
}

func (c *Client) call(fn func() error) error {
	if c.breaker != nil {
		return c.breaker.Execute(fn)
	}
	return fn()
}
