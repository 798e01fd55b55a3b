package collaboration

import (
	"bytes"
	"encoding/json"

	"momo-collab/internal/protocol"
)

// awarenessTracker keeps the ephemeral presence state for one room: a map
// from awareness client id to the payload that client last announced. It is
// never persisted; a restart drops it and clients simply re-announce.
//
// All methods are called with the owning room's lock held.
type awarenessTracker struct {
	states map[int64]json.RawMessage
}

func newAwarenessTracker() *awarenessTracker {
	return &awarenessTracker{states: make(map[int64]json.RawMessage)}
}

// Apply merges one client's announcement and returns the resulting three-way
// diff. A null or empty payload is a leave announcement.
func (t *awarenessTracker) Apply(clientID int64, state json.RawMessage) protocol.AwarenessDiff {
	diff := protocol.AwarenessDiff{}

	prev, known := t.states[clientID]
	if len(state) == 0 || bytes.Equal(state, []byte("null")) {
		if known {
			delete(t.states, clientID)
			diff.Removed = append(diff.Removed, clientID)
		}
		return diff
	}

	t.states[clientID] = state
	diff.States = map[int64]json.RawMessage{clientID: state}
	if !known {
		diff.Added = append(diff.Added, clientID)
	} else if !bytes.Equal(prev, state) {
		diff.Updated = append(diff.Updated, clientID)
	} else {
		// unchanged re-announcement: nothing to relay
		diff.States = nil
	}
	return diff
}

// Remove drops a disconnected client and returns the removal diff.
func (t *awarenessTracker) Remove(clientID int64) protocol.AwarenessDiff {
	diff := protocol.AwarenessDiff{}
	if _, known := t.states[clientID]; known {
		delete(t.states, clientID)
		diff.Removed = append(diff.Removed, clientID)
	}
	return diff
}

// Snapshot expresses the full current state as an all-added diff, for
// resyncing a newly joined connection.
func (t *awarenessTracker) Snapshot() protocol.AwarenessDiff {
	diff := protocol.AwarenessDiff{}
	if len(t.states) == 0 {
		return diff
	}
	diff.States = make(map[int64]json.RawMessage, len(t.states))
	for id, state := range t.states {
		diff.Added = append(diff.Added, id)
		diff.States[id] = state
	}
	return diff
}
