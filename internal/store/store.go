// Package store persists workflow sessions and the shared action history.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/payops-sentinel/internal/model"
)

var (
	// ErrNotFound is returned when no state exists for a thread ID.
	ErrNotFound = eris.New("store: workflow state not found")
	// ErrConflict is returned when a save races another writer for the same thread.
	ErrConflict = eris.New("store: workflow state version conflict")
)

// StateRepository loads and saves one WorkflowState per thread ID.
//
// Save is a compare-and-swap on Version: the state must carry the version it
// was loaded with (0 for a new session). On success Version is incremented in
// place.
type StateRepository interface {
	Load(ctx context.Context, threadID string) (*model.WorkflowState, error)
	Save(ctx context.Context, state *model.WorkflowState) error
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]string, error)
}

// HistoryStore is the append-only log of executed routing changes.
type HistoryStore interface {
	AppendAction(ctx context.Context, rec model.ActionRecord) error
	// RecentActions returns the last k records, oldest first.
	RecentActions(ctx context.Context, k int) ([]model.ActionRecord, error)
}

// Store is a complete persistence backend.
type Store interface {
	StateRepository
	HistoryStore

	Migrate(ctx context.Context) error
	Close() error
}
