// Package repo defines the linked-repository domain entity.
package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/skarsol/convoy/internal/domain"
)

// Repo is one linked repository an agent can work on. GitHubLinks holds
// full repository URLs; the first link is the one agents are launched
// against.
type Repo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	GitHubLinks  []string  `json:"github_links"`
	Instructions string    `json:"instructions,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PrimaryLink returns the repository URL agents are launched against, or ""
// when no link is configured.
func (r *Repo) PrimaryLink() string {
	if len(r.GitHubLinks) == 0 {
		return ""
	}
	return r.GitHubLinks[0]
}

// CreateRequest holds the fields needed to register a repo.
type CreateRequest struct {
	Name         string   `json:"name"`
	GitHubLinks  []string `json:"github_links,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// Validate checks the request.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	for _, link := range r.GitHubLinks {
		if _, _, err := ParseGitHubURL(link); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
	}
	return nil
}

// UpdateRequest holds optional fields for patching a repo.
type UpdateRequest struct {
	Name         *string   `json:"name,omitempty"`
	GitHubLinks  *[]string `json:"github_links,omitempty"`
	Instructions *string   `json:"instructions,omitempty"`
}

// ParseGitHubURL extracts owner and name from a GitHub repository URL.
// Accepts https://github.com/owner/repo, the http and scheme-less variants,
// and a trailing .git suffix.
func ParseGitHubURL(url string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(url), "/")
	var path string
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		if strings.HasPrefix(trimmed, prefix) {
			path = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}
	if path == "" {
		return "", "", fmt.Errorf("invalid GitHub URL %q", url)
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub URL %q: expected owner/repo", url)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
