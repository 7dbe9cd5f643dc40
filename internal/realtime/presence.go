// internal/realtime/presence.go
package realtime

import (
	"reflect"
	"sync"
)

// presenceRefKey identifies a single presence entry when the server sets it.
const presenceRefKey = "presence_ref"

// PresenceStore holds the presence state of a channel as reported by the
// server. It is only mutated by inbound sync, join and leave events.
type PresenceStore struct {
	mu    sync.RWMutex
	state map[string][]map[string]any // presenceKey -> list of states
}

// NewPresenceStore creates an empty presence store
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		state: make(map[string][]map[string]any),
	}
}

// Apply updates the store from a presence event. Unknown events are ignored
// and reported as false.
func (ps *PresenceStore) Apply(ev PresenceEvent) bool {
	switch ev.Event {
	case PresenceSync:
		ps.Sync(ev.CurrentPresences)
	case PresenceJoin:
		entries := ev.NewPresences
		if len(entries) == 0 {
			entries = ev.CurrentPresences[ev.Key]
		}
		ps.Join(ev.Key, entries)
	case PresenceLeave:
		ps.Leave(ev.Key, ev.LeftPresences)
	default:
		return false
	}
	return true
}

// Sync replaces the full state
func (ps *PresenceStore) Sync(state map[string][]map[string]any) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.state = make(map[string][]map[string]any, len(state))
	for key, entries := range state {
		if len(entries) == 0 {
			continue
		}
		ps.state[key] = copyEntries(entries)
	}
}

// Join appends entries under key
func (ps *PresenceStore) Join(key string, entries []map[string]any) {
	if len(entries) == 0 {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.state[key] = append(ps.state[key], copyEntries(entries)...)
}

// Leave removes entries under key. With no entries, or when nothing
// remains, the key itself is removed.
func (ps *PresenceStore) Leave(key string, entries []map[string]any) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if len(entries) == 0 {
		delete(ps.state, key)
		return
	}

	var remaining []map[string]any
	for _, existing := range ps.state[key] {
		if !containsEntry(entries, existing) {
			remaining = append(remaining, existing)
		}
	}

	if len(remaining) == 0 {
		delete(ps.state, key)
	} else {
		ps.state[key] = remaining
	}
}

// Snapshot returns a copy of the current state
func (ps *PresenceStore) Snapshot() map[string][]map[string]any {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	result := make(map[string][]map[string]any, len(ps.state))
	for key, entries := range ps.state {
		result[key] = copyEntries(entries)
	}
	return result
}

// Len returns the number of presence keys
func (ps *PresenceStore) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.state)
}

// Reset clears the state
func (ps *PresenceStore) Reset() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.state = make(map[string][]map[string]any)
}

// containsEntry matches by presence_ref when both sides have one, otherwise
// by deep equality.
func containsEntry(list []map[string]any, entry map[string]any) bool {
	ref, hasRef := entry[presenceRefKey]
	for _, candidate := range list {
		if other, ok := candidate[presenceRefKey]; ok && hasRef {
			if reflect.DeepEqual(other, ref) {
				return true
			}
			continue
		}
		if reflect.DeepEqual(candidate, entry) {
			return true
		}
	}
	return false
}

func copyEntries(entries []map[string]any) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, entry := range entries {
		m := make(map[string]any, len(entry))
		for k, v := range entry {
			m[k] = v
		}
		out[i] = m
	}
	return out
}
