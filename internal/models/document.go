package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Role is the access level a user holds on a document.
type Role string

const (
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

type DocumentStatus string

const (
	StatusActive   DocumentStatus = "active"
	StatusArchived DocumentStatus = "archived"
	StatusTrashed  DocumentStatus = "trashed"
)

// Document holds the metadata for one document: ownership, sharing and
// hierarchy. The document content itself never lives here; the collaboration
// layer keeps it as a CRDT snapshot in DocumentState.
type Document struct {
	ID       string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title    string         `json:"title" gorm:"type:text;not null;default:'Untitled'"`
	OwnerID  string         `json:"owner_id" gorm:"type:char(27);not null;index"`
	ParentID *string        `json:"parent_id,omitempty" gorm:"type:char(27);index"`
	IsPublic bool           `json:"is_public" gorm:"not null;default:false"`
	Status   DocumentStatus `json:"status" gorm:"type:varchar(16);not null;default:'active';index"`

	Collaborators []Collaborator `json:"collaborators,omitempty" gorm:"foreignKey:DocumentID"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// Collaborator grants one user a role on one document.
type Collaborator struct {
	DocumentID string    `json:"document_id" gorm:"type:char(27);primaryKey"`
	UserID     string    `json:"user_id" gorm:"type:char(27);primaryKey"`
	Role       Role      `json:"role" gorm:"type:varchar(16);not null;default:'viewer'"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName override
func (Collaborator) TableName() string {
	return "document_collaborators"
}

type DocumentCreate struct {
	Title    string  `json:"title"`
	ParentID *string `json:"parent_id,omitempty"`
}
