package service

import (
	"context"
	"fmt"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/repo"
	"github.com/skarsol/convoy/internal/port/database"
	"github.com/skarsol/convoy/internal/port/gitsignal"
)

// RepoService manages the linked repositories agents work on.
type RepoService struct {
	store   database.Store
	clients *Clients
}

// NewRepoService creates a RepoService.
func NewRepoService(store database.Store, clients *Clients) *RepoService {
	return &RepoService{store: store, clients: clients}
}

// List returns all repos ordered by name.
func (s *RepoService) List(ctx context.Context) ([]repo.Repo, error) {
	return s.store.ListRepos(ctx)
}

// Get returns one repo.
func (s *RepoService) Get(ctx context.Context, id string) (*repo.Repo, error) {
	return s.store.GetRepo(ctx, id)
}

// Create registers a repo.
func (s *RepoService) Create(ctx context.Context, req *repo.CreateRequest) (*repo.Repo, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.store.CreateRepo(ctx, req)
}

// Update patches a repo.
func (s *RepoService) Update(ctx context.Context, id string, req *repo.UpdateRequest) (*repo.Repo, error) {
	r, err := s.store.GetRepo(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.GitHubLinks != nil {
		r.GitHubLinks = *req.GitHubLinks
	}
	if req.Instructions != nil {
		r.Instructions = *req.Instructions
	}

	check := repo.CreateRequest{Name: r.Name, GitHubLinks: r.GitHubLinks}
	if err := check.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateRepo(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a repo.
func (s *RepoService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteRepo(ctx, id)
}

// Check verifies that a GitHub URL a user wants to link points at a
// repository reachable with the configured token.
func (s *RepoService) Check(ctx context.Context, url string) (*gitsignal.RepoCheck, error) {
	owner, name, err := repo.ParseGitHubURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	client, err := s.clients.Branches()
	if err != nil {
		return nil, err
	}
	return client.CheckRepo(ctx, owner, name)
}
