package api

import (
	"context"

	"momo-collab/internal/models"
)

// Consumer-driven interfaces: the handlers declare exactly what they need
// from the storage layer, so the repository implementations can change (or
// be faked in tests) without touching this package.

// UserStore is what the auth endpoints need.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// DocumentStore is what the document metadata endpoints need.
type DocumentStore interface {
	Create(ctx context.Context, ownerID string, in *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	AddCollaborator(ctx context.Context, documentID, userID string, role models.Role) error
	SetVisibility(ctx context.Context, documentID string, isPublic bool) error
}
