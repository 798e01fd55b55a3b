package collaboration

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"momo-collab/internal/crdt"
	"momo-collab/internal/models"
	"momo-collab/internal/protocol"
)

type roomState int

const (
	roomCold roomState = iota
	roomLoading
	roomActive
	roomDraining
)

const storeTimeout = 10 * time.Second

// Room is the unit of collaboration: one resident CRDT document plus every
// connection currently attached to it. All mutations to the document, the
// connection set, the awareness map and the debounce bookkeeping are
// serialized under r.mu; the only suspension points (fetch and store) run
// outside it.
type Room struct {
	Key     string
	manager *Manager

	mu        sync.Mutex
	state     roomState
	doc       *crdt.Doc
	sessions  map[*Session]bool
	awareness *awarenessTracker

	// loaded is closed when the initial fetch completes; every joiner of a
	// cold room waits on it, so at most one fetch is ever in flight.
	loaded     chan struct{}
	loadFailed bool

	dirty       bool
	lastFlushed []byte
	quietTimer  *time.Timer
	maxTimer    *time.Timer

	// flushMu serializes stores: at most one in-flight store per room, with
	// later debounce firings coalescing behind it.
	flushMu sync.Mutex

	unsubscribe func()
}

func newRoom(key string, m *Manager) *Room {
	return &Room{
		Key:       key,
		manager:   m,
		state:     roomLoading,
		sessions:  make(map[*Session]bool),
		awareness: newAwarenessTracker(),
		loaded:    make(chan struct{}),
	}
}

// load performs the one-time fetch that seeds the room's document. An absent
// blob is the normal new-document case. A transient fetch failure seeds an
// empty document and is remembered: the next flush re-fetches and merges the
// durable state back in before storing over it.
func (r *Room) load() {
	defer close(r.loaded)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var doc *crdt.Doc
	fetchFailed := false
	blob, err := r.manager.states.Fetch(ctx, r.Key)
	if err != nil {
		log.Printf("room %s: fetch failed, starting empty (will recover on next flush): %v", r.Key, err)
		doc = crdt.New()
		fetchFailed = true
		blob = nil
	} else if doc, err = crdt.Load(blob); err != nil {
		log.Printf("room %s: stored snapshot unreadable, starting empty: %v", r.Key, err)
		doc = crdt.New()
		blob = nil
	}

	r.mu.Lock()
	r.doc = doc
	r.loadFailed = fetchFailed
	r.lastFlushed = blob
	r.state = roomActive
	r.mu.Unlock()

	if b := r.manager.broker; b != nil {
		r.mu.Lock()
		r.unsubscribe = b.Subscribe(r.Key, r.applyRemote)
		r.mu.Unlock()
	}
}

// attach adds a session once the room is loaded. Returns false when the room
// was already released, in which case the caller retries against a fresh one.
func (r *Room) attach(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == roomCold || r.doc == nil {
		return false
	}
	r.state = roomActive
	r.sessions[s] = true
	s.room = r

	// Per-connection sync state for the join handshake. Viewers sync against
	// a fork of the document so the handshake cannot write into the
	// canonical copy.
	if s.Role == models.RoleEditor {
		s.sync = r.doc.NewSyncState()
	} else {
		fork, err := r.doc.Fork()
		if err != nil {
			log.Printf("room %s: fork for viewer sync failed: %v", r.Key, err)
		} else {
			s.syncDoc = fork
			s.sync = fork.NewSyncState()
		}
	}
	return true
}

// detach removes a session and reports whether it was the last one, in which
// case the room has entered Draining and the caller must drain it.
func (r *Room) detach(s *Session) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sessions[s] {
		return false
	}
	delete(r.sessions, s)
	close(s.send)

	if s.clientID != 0 {
		if diff := r.awareness.Remove(s.clientID); !diff.Empty() {
			if frame, err := protocol.EncodeAwareness(diff); err == nil {
				r.broadcastLocked(frame, s)
			}
		}
	}

	log.Printf("session %s left room %s (remaining: %d)", s.ID, r.Key, len(r.sessions))

	if len(r.sessions) == 0 {
		r.state = roomDraining
		return true
	}
	return false
}

// drain runs after the last detach: one final flush of the current state,
// then release. The load is guaranteed complete here because sessions only
// ever attach after the loaded channel closes.
func (r *Room) drain() {
	r.flush()
	r.manager.release(r)
}

// BeginSync sends a newly attached connection the server-initiated sync step
// and a full awareness resync.
func (r *Room) BeginSync(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pumpSyncLocked(s, protocol.SyncStep1)

	if snap := r.awareness.Snapshot(); !snap.Empty() {
		if frame, err := protocol.EncodeAwareness(snap); err == nil {
			s.queue(frame)
		}
	}
}

// pumpSyncLocked drains the session's pending outbound sync messages.
func (r *Room) pumpSyncLocked(s *Session, sub byte) {
	if s.sync == nil {
		return
	}
	for {
		msg, ok := s.sync.GenerateMessage()
		if !ok {
			return
		}
		s.queue(protocol.EncodeSync(sub, msg))
	}
}

// HandleMessage processes one inbound frame from a connection. Malformed
// frames are dropped with a warning to the sender only; unknown tags are
// ignored; the room and the other connections are never affected.
func (r *Room) HandleMessage(s *Session, raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		s.warn(protocol.WarnProtocolError, "malformed frame")
		return
	}

	switch frame.Type {
	case protocol.MessageSync:
		r.handleSync(s, frame)
	case protocol.MessageAwareness:
		r.handleAwareness(s, frame.Payload)
	default:
		// Unknown or out-of-phase tags: ignored for forward compatibility.
	}
}

func (r *Room) handleSync(s *Session, f protocol.Frame) {
	switch f.Sub {
	case protocol.SyncStep1, protocol.SyncStep2:
		r.mu.Lock()
		if s.sync == nil || r.doc == nil {
			r.mu.Unlock()
			return
		}
		if err := s.sync.ReceiveMessage(f.Payload); err != nil {
			r.mu.Unlock()
			s.warn(protocol.WarnProtocolError, "unreadable sync message")
			return
		}
		// Changes an editor pushed through the handshake become a normal
		// broadcast delta. Viewer handshakes land in the fork and stay there.
		if s.Role == models.RoleEditor {
			if delta := r.doc.TakeUpdate(); delta != nil {
				r.afterMutationLocked(s, delta)
			}
		}
		r.pumpSyncLocked(s, protocol.SyncStep2)
		r.mu.Unlock()

	case protocol.SyncUpdate:
		if s.Role != models.RoleEditor {
			s.warn(protocol.WarnPermissionViolation, "connection is read-only")
			return
		}
		r.applyUpdate(s, f.Payload)

	default:
		// ignore
	}
}

// applyUpdate merges an editor's delta and relays the result to every other
// connection in the room, never back to the sender.
func (r *Room) applyUpdate(s *Session, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc == nil {
		return
	}
	if err := r.doc.ApplyUpdate(payload); err != nil {
		s.warn(protocol.WarnProtocolError, "unreadable update")
		return
	}
	if delta := r.doc.TakeUpdate(); delta != nil {
		r.afterMutationLocked(s, delta)
	}
}

// applyRemote merges a delta relayed from another server instance.
func (r *Room) applyRemote(update []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.doc == nil {
		return
	}
	if err := r.doc.ApplyUpdate(update); err != nil {
		log.Printf("room %s: dropping unreadable relayed update: %v", r.Key, err)
		return
	}
	if delta := r.doc.TakeUpdate(); delta != nil {
		r.broadcastLocked(protocol.EncodeSync(protocol.SyncUpdate, delta), nil)
		r.markDirtyLocked()
	}
}

// afterMutationLocked relays a freshly applied delta, arms the debounce and
// hands the delta to the cross-instance broker.
func (r *Room) afterMutationLocked(origin *Session, delta []byte) {
	r.broadcastLocked(protocol.EncodeSync(protocol.SyncUpdate, delta), origin)
	r.markDirtyLocked()
	if b := r.manager.broker; b != nil {
		go b.Publish(context.Background(), r.Key, delta)
	}
}

func (r *Room) handleAwareness(s *Session, payload []byte) {
	var st models.AwarenessState
	if err := json.Unmarshal(payload, &st); err != nil || st.ClientID == 0 {
		s.warn(protocol.WarnProtocolError, "unreadable awareness payload")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s.clientID = st.ClientID
	diff := r.awareness.Apply(st.ClientID, st.State)
	if diff.Empty() {
		return
	}
	if frame, err := protocol.EncodeAwareness(diff); err == nil {
		r.broadcastLocked(frame, s)
	}
}

// broadcastLocked queues a frame to every attached session except the
// originator. Per-socket FIFO order is preserved by each session's buffered
// send channel; a session that cannot keep up is dropped rather than allowed
// to block the room.
func (r *Room) broadcastLocked(frame []byte, except *Session) {
	for s := range r.sessions {
		if s == except {
			continue
		}
		select {
		case s.send <- frame:
		default:
			log.Printf("session %s send buffer full, dropping connection", s.ID)
			go s.close()
		}
	}
}

// markDirtyLocked arms the two debounce timers after a mutation: the quiet
// timer resets on every call, the max timer runs once from the first dirty
// state so continuous editing cannot defer the flush forever.
func (r *Room) markDirtyLocked() {
	r.dirty = true
	if r.quietTimer == nil {
		r.quietTimer = time.AfterFunc(r.manager.quiet, r.flush)
	} else {
		r.quietTimer.Reset(r.manager.quiet)
	}
	if r.maxTimer == nil {
		r.maxTimer = time.AfterFunc(r.manager.maxWait, r.flush)
	}
}

func (r *Room) stopTimersLocked() {
	if r.quietTimer != nil {
		r.quietTimer.Stop()
		r.quietTimer = nil
	}
	if r.maxTimer != nil {
		r.maxTimer.Stop()
		r.maxTimer = nil
	}
}

// flush persists the current snapshot if it differs from the last stored
// one. Store failures are logged and retried on the next debounce cycle;
// they never crash the room or drop connections.
func (r *Room) flush() {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if r.doc == nil || !r.dirty {
		r.stopTimersLocked()
		r.mu.Unlock()
		return
	}
	needRecover := r.loadFailed
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	// If the initial fetch failed this room has been serving edits on top of
	// an empty document. Merge whatever is durable back in before storing
	// over it; the CRDT makes the merge safe in either order.
	if needRecover {
		blob, err := r.manager.states.Fetch(ctx, r.Key)
		if err != nil {
			log.Printf("room %s: fetch retry failed, keeping state in memory: %v", r.Key, err)
			r.scheduleRetry()
			return
		}
		r.mu.Lock()
		if len(blob) > 0 && r.doc != nil {
			if err := r.doc.ApplyUpdate(blob); err != nil {
				log.Printf("room %s: could not merge recovered snapshot: %v", r.Key, err)
			} else if delta := r.doc.TakeUpdate(); delta != nil {
				r.broadcastLocked(protocol.EncodeSync(protocol.SyncUpdate, delta), nil)
			}
		}
		r.loadFailed = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	if r.doc == nil {
		r.mu.Unlock()
		return
	}
	snapshot := r.doc.Snapshot()
	last := r.lastFlushed
	r.dirty = false
	r.stopTimersLocked()
	r.mu.Unlock()

	if bytes.Equal(snapshot, last) {
		return
	}

	if err := r.manager.states.Store(ctx, r.Key, snapshot); err != nil {
		log.Printf("room %s: store failed, retrying next cycle: %v", r.Key, err)
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		r.scheduleRetry()
		return
	}

	r.mu.Lock()
	r.lastFlushed = snapshot
	drained := r.state == roomDraining && len(r.sessions) == 0
	r.mu.Unlock()

	// A drained room that was only kept alive for this retry can go now.
	if drained {
		r.manager.release(r)
	}
}

// scheduleRetry re-arms the quiet timer after a failed flush.
func (r *Room) scheduleRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quietTimer == nil {
		r.quietTimer = time.AfterFunc(r.manager.quiet, r.flush)
	} else {
		r.quietTimer.Reset(r.manager.quiet)
	}
}

// Contents renders the resident document, for logging and tests.
func (r *Room) Contents() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return ""
	}
	return r.doc.Contents()
}
