package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momo-collab/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStorage marks a transient persistence failure. The collaboration layer
// logs it and retries on the next debounce cycle; it is never surfaced to
// connected clients.
var ErrStorage = errors.New("storage error")

// StateRepositoryImpl persists CRDT snapshots, one whole blob per room key.
type StateRepositoryImpl struct {
	db *gorm.DB
}

// NewStateRepository creates a new snapshot repository
func NewStateRepository(db *gorm.DB) *StateRepositoryImpl {
	return &StateRepositoryImpl{db: db}
}

// Fetch loads the stored snapshot for a room key. A missing record is the
// normal "new document" case and returns (nil, nil), not an error.
func (r *StateRepositoryImpl) Fetch(ctx context.Context, roomKey string) ([]byte, error) {
	var rec models.DocumentState

	err := r.db.WithContext(ctx).First(&rec, "doc_id = ?", roomKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch state for %s: %v", ErrStorage, roomKey, err)
	}

	return rec.State, nil
}

// Store upserts the snapshot for a room key, replacing the previous blob
// atomically. Idempotent: storing the same state twice is a no-op.
func (r *StateRepositoryImpl) Store(ctx context.Context, roomKey string, state []byte) error {
	rec := models.DocumentState{
		DocID:     roomKey,
		State:     state,
		UpdatedAt: time.Now(),
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: store state for %s: %v", ErrStorage, roomKey, err)
	}

	return nil
}
