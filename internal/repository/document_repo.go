package repository

import (
	"context"
	"errors"
	"fmt"

	"momo-collab/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentRepositoryImpl handles document metadata: ownership, collaborator
// roles and the public flag. The collaboration core only reads from it.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new document owned by the given user.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, ownerID string, in *models.DocumentCreate) (*models.Document, error) {
	doc := &models.Document{
		Title:    in.Title,
		OwnerID:  ownerID,
		ParentID: in.ParentID,
		Status:   models.StatusActive,
	}
	if doc.Title == "" {
		doc.Title = "Untitled"
	}

	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	return doc, nil
}

// GetByID retrieves a document with its collaborator list.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).
		Preload("Collaborators").
		First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// AddCollaborator grants or updates a user's role on a document.
func (r *DocumentRepositoryImpl) AddCollaborator(ctx context.Context, documentID, userID string, role models.Role) error {
	collab := models.Collaborator{
		DocumentID: documentID,
		UserID:     userID,
		Role:       role,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).
		Create(&collab).Error
	if err != nil {
		return fmt.Errorf("failed to add collaborator: %w", err)
	}

	return nil
}

// SetVisibility flips the public flag on a document.
func (r *DocumentRepositoryImpl) SetVisibility(ctx context.Context, documentID string, isPublic bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ?", documentID).
		Update("is_public", isPublic)
	if res.Error != nil {
		return fmt.Errorf("failed to update visibility: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}

	return nil
}
