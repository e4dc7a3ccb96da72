package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/update"
)

const updateColumns = `id, title, description, implementation_guide, status, selected_repo_ids, attachments, auto_create_pr, version, created_at, updated_at`

func (s *Store) ListUpdates(ctx context.Context) ([]update.Update, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+updateColumns+` FROM updates ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var updates []update.Update
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func (s *Store) GetUpdate(ctx context.Context, id string) (*update.Update, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+updateColumns+` FROM updates WHERE id = $1`, id)

	u, err := scanUpdate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get update %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get update %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) CreateUpdate(ctx context.Context, req *update.CreateRequest) (*update.Update, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO updates (title, description, implementation_guide, selected_repo_ids, attachments, auto_create_pr)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+updateColumns,
		req.Title, req.Description, req.ImplementationGuide,
		pgTextArray(req.SelectedRepoIDs), []byte(req.Attachments), req.AutoCreatePR)

	u, err := scanUpdate(row)
	if err != nil {
		return nil, fmt.Errorf("create update: %w", err)
	}
	return &u, nil
}

func (s *Store) UpdateUpdateStatus(ctx context.Context, id string, status update.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE updates SET status = $2, version = version + 1, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update update status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update update status %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteUpdate(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM updates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete update %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete update %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanUpdate(row scannable) (update.Update, error) {
	var u update.Update
	var attachments []byte
	err := row.Scan(
		&u.ID, &u.Title, &u.Description, &u.ImplementationGuide, &u.Status,
		&u.SelectedRepoIDs, &attachments, &u.AutoCreatePR,
		&u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return u, err
	}
	u.Attachments = attachments
	return u, nil
}
