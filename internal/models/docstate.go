package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// DocumentState is the durable record for one collaboration room: the latest
// serialized CRDT snapshot plus its last write time. Each store replaces the
// whole blob; there is never a partial write.
//
// DocID is the room key, which may carry an embedded sub-document suffix
// ("<rootId>" or "<rootId>::<subId>"), so it is wider than a bare KSUID.
type DocumentState struct {
	ID        string    `gorm:"type:char(27);primaryKey" json:"id"`
	DocID     string    `gorm:"type:varchar(128);not null;uniqueIndex" json:"doc_id"`
	State     []byte    `gorm:"type:bytea;not null" json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates KSUID
func (s *DocumentState) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (DocumentState) TableName() string {
	return "document_states"
}
