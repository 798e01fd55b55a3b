package models

import (
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents one authenticated WebSocket connection to a room.
type Session struct {
	ID           string    `json:"id"`
	RoomKey      string    `json:"room_key"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	Color        string    `json:"color"`
	Role         Role      `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func NewSession(roomKey, userID, userName, color string, role Role) *Session {
	return &Session{
		ID:           ksuid.New().String(),
		RoomKey:      roomKey,
		UserID:       userID,
		UserName:     userName,
		Color:        color,
		Role:         role,
		ConnectedAt:  time.Now(),
		LastActiveAt: time.Now(),
	}
}

// AwarenessState is the presence payload a client announces for itself.
// The payload is opaque to the server (typically cursor anchor, user name and
// color); it is merged into the room's ephemeral awareness map and never
// persisted.
type AwarenessState struct {
	ClientID int64           `json:"client_id"`
	State    json.RawMessage `json:"state,omitempty"`
}
