package collaboration

import (
	"context"
	"log"
	"sync"
	"time"
)

// StateStore is the persistence adapter the manager flushes rooms through.
// Fetch returns (nil, nil) when no prior state exists; both operations may
// fail transiently, in which case the room retries on the next debounce
// cycle.
type StateStore interface {
	Fetch(ctx context.Context, roomKey string) ([]byte, error)
	Store(ctx context.Context, roomKey string, state []byte) error
}

// UpdateBroker relays applied deltas between server instances hosting the
// same room. Optional; a nil broker means single-instance operation.
type UpdateBroker interface {
	Publish(ctx context.Context, roomKey string, update []byte)
	Subscribe(roomKey string, fn func(update []byte)) (unsubscribe func())
}

// Manager owns the process-scoped registry of rooms and binds sessions to
// them. Room creation and teardown are serialized through the registry lock;
// everything inside a room is serialized by that room's own lock.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	states  StateStore
	broker  UpdateBroker
	quiet   time.Duration
	maxWait time.Duration
}

// NewManager creates a manager flushing through the given store with the
// given debounce windows: quiet resets on every applied update, maxWait
// bounds durability lag under continuous editing.
func NewManager(states StateStore, quiet, maxWait time.Duration) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		states:  states,
		quiet:   quiet,
		maxWait: maxWait,
	}
}

// SetBroker enables cross-instance update relay.
func (m *Manager) SetBroker(b UpdateBroker) {
	m.broker = b
}

// Attach joins an authenticated session to its room, creating and loading the
// room if this is the first connection. Concurrent first connections share a
// single in-flight fetch: whoever finds no room creates one and starts the
// load, everyone else waits on the same result.
func (m *Manager) Attach(ctx context.Context, s *Session) (*Room, error) {
	for {
		m.mu.Lock()
		room, ok := m.rooms[s.RoomKey]
		if !ok {
			room = newRoom(s.RoomKey, m)
			m.rooms[s.RoomKey] = room
			go room.load()
		}
		m.mu.Unlock()

		select {
		case <-room.loaded:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if room.attach(s) {
			return room, nil
		}
		// Lost a race with teardown: the room drained and released between
		// the registry lookup and the attach. Start over with a fresh room.
	}
}

// Detach removes a session from its room. The last session out drains the
// room: a final flush, then release of the CRDT and the registry entry.
func (m *Manager) Detach(s *Session) {
	room := s.room
	if room == nil {
		return
	}
	if last := room.detach(s); last {
		room.drain()
	}
}

// release removes a drained room from the registry unless a new connection
// arrived while the drain flush was in flight.
func (m *Manager) release(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == roomCold {
		return
	}
	if len(r.sessions) > 0 {
		r.state = roomActive
		return
	}
	if r.dirty {
		// The final flush failed. Keep the room resident so the armed retry
		// timer can land the pending state; the successful flush releases it.
		return
	}
	if m.rooms[r.Key] == r {
		delete(m.rooms, r.Key)
	}
	r.state = roomCold
	r.stopTimersLocked()
	if r.unsubscribe != nil {
		go r.unsubscribe()
		r.unsubscribe = nil
	}
	r.doc = nil
	log.Printf("room %s released", r.Key)
}

// RoomCount reports how many rooms are currently resident.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Shutdown closes every connection and synchronously flushes every resident
// room so no acknowledged edit is lost on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		sessions := make([]*Session, 0, len(room.sessions))
		for s := range room.sessions {
			sessions = append(sessions, s)
		}
		room.mu.Unlock()

		for _, s := range sessions {
			s.close()
		}
		room.flush()
	}
	log.Printf("collaboration manager shut down (%d rooms flushed)", len(rooms))
}
