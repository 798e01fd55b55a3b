// Package crdt wraps the automerge CRDT behind the narrow capability the
// collaboration layer needs: apply remote deltas, emit local deltas, and
// produce/consume full-state snapshots. Applying the same set of deltas in
// any order, any number of times, converges every replica to the same state.
package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Doc is one replicated document.
type Doc struct {
	inner *automerge.Doc
}

// New creates an empty document.
func New() *Doc {
	return &Doc{inner: automerge.New()}
}

// Load restores a document from a snapshot blob. An empty blob is the valid
// "new document" case and yields an empty document.
func Load(snapshot []byte) (*Doc, error) {
	if len(snapshot) == 0 {
		return New(), nil
	}
	inner, err := automerge.Load(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &Doc{inner: inner}, nil
}

// ApplyUpdate merges a binary delta produced by another replica. Unknown
// changes are applied, already-known changes are ignored, so replay and
// reordering are safe.
func (d *Doc) ApplyUpdate(update []byte) error {
	if err := d.inner.LoadIncremental(update); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}
	return nil
}

// TakeUpdate returns the serialized changes made since the last call to
// TakeUpdate or Snapshot, or nil when nothing changed. The room uses this to
// extract exactly the delta a mutation produced, however it arrived.
func (d *Doc) TakeUpdate() []byte {
	b := d.inner.SaveIncremental()
	if len(b) == 0 {
		return nil
	}
	return b
}

// Snapshot serializes the full document state.
func (d *Doc) Snapshot() []byte {
	return d.inner.Save()
}

// Fork returns an independent copy at the current state. Viewer connections
// sync against a fork so the handshake can never write through to the
// canonical document.
func (d *Doc) Fork() (*Doc, error) {
	inner, err := d.inner.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork document: %w", err)
	}
	return &Doc{inner: inner}, nil
}

// SetValue writes a scalar at a root path. Fixture and test helper.
func (d *Doc) SetValue(path string, value interface{}) error {
	return d.inner.Path(path).Set(value)
}

// Contents renders the root map for logging and assertions.
func (d *Doc) Contents() string {
	return d.inner.RootMap().GoString()
}

// SyncState tracks what one peer is known to have during the join handshake.
type SyncState struct {
	inner *automerge.SyncState
}

// NewSyncState starts a sync exchange over this document.
func (d *Doc) NewSyncState() *SyncState {
	return &SyncState{inner: automerge.NewSyncState(d.inner)}
}

// GenerateMessage produces the next sync-protocol message to send to the
// peer, or ok=false when the peer is up to date.
func (s *SyncState) GenerateMessage() (msg []byte, ok bool) {
	m, valid := s.inner.GenerateMessage()
	if m == nil || !valid {
		return nil, false
	}
	return m.Bytes(), true
}

// ReceiveMessage ingests a sync-protocol message from the peer, applying any
// changes it carries to the underlying document.
func (s *SyncState) ReceiveMessage(raw []byte) error {
	if _, err := s.inner.ReceiveMessage(raw); err != nil {
		return fmt.Errorf("failed to receive sync message: %w", err)
	}
	return nil
}
