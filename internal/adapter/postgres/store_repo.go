package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/repo"
)

const repoColumns = `id, name, github_links, instructions, version, created_at, updated_at`

func (s *Store) ListRepos(ctx context.Context) ([]repo.Repo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+repoColumns+` FROM repos ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var repos []repo.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *Store) GetRepo(ctx context.Context, id string) (*repo.Repo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE id = $1`, id)

	r, err := scanRepo(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get repo %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get repo %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) CreateRepo(ctx context.Context, req *repo.CreateRequest) (*repo.Repo, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO repos (name, github_links, instructions)
		 VALUES ($1, $2, $3)
		 RETURNING `+repoColumns,
		req.Name, pgTextArray(req.GitHubLinks), req.Instructions)

	r, err := scanRepo(row)
	if err != nil {
		return nil, fmt.Errorf("create repo: %w", err)
	}
	return &r, nil
}

func (s *Store) UpdateRepo(ctx context.Context, r *repo.Repo) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repos SET name = $2, github_links = $3, instructions = $4, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $5`,
		r.ID, r.Name, pgTextArray(r.GitHubLinks), r.Instructions, r.Version)
	if err != nil {
		return fmt.Errorf("update repo %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update repo %s: %w", r.ID, domain.ErrConflict)
	}
	r.Version++
	return nil
}

func (s *Store) DeleteRepo(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM repos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete repo %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete repo %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanRepo(row scannable) (repo.Repo, error) {
	var r repo.Repo
	err := row.Scan(&r.ID, &r.Name, &r.GitHubLinks, &r.Instructions, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
