// Package update defines the Update domain entity: one logical change rolled
// out in parallel across a set of linked repositories.
package update

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skarsol/convoy/internal/domain"
)

// Status represents the overall state of an update.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Update groups the per-repo runs of one logical change.
type Update struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	ImplementationGuide string          `json:"implementation_guide,omitempty"`
	Status              Status          `json:"status"`
	SelectedRepoIDs     []string        `json:"selected_repo_ids"`
	Attachments         json.RawMessage `json:"attachments,omitempty"` // opaque to the core
	AutoCreatePR        bool            `json:"auto_create_pr"`
	Version             int             `json:"version"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// CreateRequest holds the fields needed to create an update. When
// SelectedRepoIDs is empty every known repo is included.
type CreateRequest struct {
	Title               string            `json:"title"`
	Description         string            `json:"description,omitempty"`
	ImplementationGuide string            `json:"implementation_guide,omitempty"`
	SelectedRepoIDs     []string          `json:"selected_repo_ids,omitempty"`
	Attachments         json.RawMessage   `json:"attachments,omitempty"`
	RepoInstructions    map[string]string `json:"repo_instructions,omitempty"` // repo id -> custom instructions
	AutoCreatePR        bool              `json:"auto_create_pr"`
}

// Validate checks the request.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	return nil
}
