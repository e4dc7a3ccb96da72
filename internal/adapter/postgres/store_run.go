package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/skarsol/convoy/internal/domain"
	"github.com/skarsol/convoy/internal/domain/run"
)

const runColumns = `id, update_id, repo_id, status, agent_id, branch_name, last_commit_sha,
	pr_url, pr_merged, pr_merged_at, pr_closed, agent_question, conversation,
	custom_instructions, auto_create_pr, pinned, awaiting_sha, awaiting_since,
	version, created_at, updated_at`

func (s *Store) ListRunsByUpdate(ctx context.Context, updateID string) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE update_id = $1 ORDER BY created_at`, updateID)
	if err != nil {
		return nil, fmt.Errorf("list runs for update %s: %w", updateID, err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *Store) ListActiveRuns(ctx context.Context) ([]run.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE status NOT IN ('complete', 'cancelled', 'skipped')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) GetRunByAgent(ctx context.Context, agentID string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE agent_id = $1`, agentID)

	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get run by agent %s: %w", agentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get run by agent %s: %w", agentID, err)
	}
	return &r, nil
}

func (s *Store) CreateRun(ctx context.Context, r *run.Run) (*run.Run, error) {
	conversation, err := marshalConversation(r.Conversation)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO runs (update_id, repo_id, status, custom_instructions, auto_create_pr, conversation)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+runColumns,
		r.UpdateID, r.RepoID, string(r.Status), r.CustomInstructions, r.AutoCreatePR, conversation)

	created, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return &created, nil
}

func (s *Store) SaveRun(ctx context.Context, r *run.Run) (*run.Run, error) {
	conversation, err := marshalConversation(r.Conversation)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE runs SET
			status = $2, agent_id = $3, branch_name = $4, last_commit_sha = $5,
			pr_url = $6, pr_merged = $7, pr_merged_at = $8, pr_closed = $9,
			agent_question = $10, conversation = $11, custom_instructions = $12,
			auto_create_pr = $13, pinned = $14, awaiting_sha = $15, awaiting_since = $16,
			version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $17
		 RETURNING `+runColumns,
		r.ID, string(r.Status), r.AgentID, r.BranchName, r.LastCommitSHA,
		r.PRURL, r.PRMerged, nullTime(r.PRMergedAt), r.PRClosed,
		r.AgentQuestion, conversation, r.CustomInstructions,
		r.AutoCreatePR, pinnedStrings(r.Pinned), r.AwaitingSHA, nullTime(r.AwaitingSince),
		r.Version)

	saved, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("save run %s: %w", r.ID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return &saved, nil
}

func collectRuns(rows pgx.Rows) ([]run.Run, error) {
	var runs []run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(row scannable) (run.Run, error) {
	var r run.Run
	var conversation []byte
	var pinned []string
	var agentID, branchName, lastSHA, prURL, question, instructions, awaitingSHA *string
	err := row.Scan(
		&r.ID, &r.UpdateID, &r.RepoID, &r.Status, &agentID, &branchName, &lastSHA,
		&prURL, &r.PRMerged, &r.PRMergedAt, &r.PRClosed, &question, &conversation,
		&instructions, &r.AutoCreatePR, &pinned, &awaitingSHA, &r.AwaitingSince,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}
	r.AgentID = deref(agentID)
	r.BranchName = deref(branchName)
	r.LastCommitSHA = deref(lastSHA)
	r.PRURL = deref(prURL)
	r.AgentQuestion = deref(question)
	r.CustomInstructions = deref(instructions)
	r.AwaitingSHA = deref(awaitingSHA)
	for _, p := range pinned {
		f, err := run.ParseField(p)
		if err != nil {
			return r, fmt.Errorf("scan run %s: %w", r.ID, err)
		}
		r.Pinned = append(r.Pinned, f)
	}
	if conversation != nil {
		if err := json.Unmarshal(conversation, &r.Conversation); err != nil {
			return r, fmt.Errorf("unmarshal conversation: %w", err)
		}
	}
	return r, nil
}

func marshalConversation(msgs []run.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []run.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation: %w", err)
	}
	return b, nil
}

func pinnedStrings(pinned []run.Field) []string {
	out := make([]string, 0, len(pinned))
	for _, f := range pinned {
		out = append(out, string(f))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
