// internal/realtime/registry.go
package realtime

import (
	"sync"
)

// Handle identifies a registered callback. Pass it to Off to remove it.
type Handle uint64

// Event is delivered to callbacks. Exactly one of the payload pointers is set,
// matching Kind.
type Event struct {
	Kind Kind
	// Type is the row event, broadcast event, presence event or
	// "execution_log".
	Type string

	PostgresChange *PostgresChange
	Broadcast      *Broadcast
	Presence       *PresenceEvent
	ExecutionLog   *ExecutionLog
}

// Callback receives matching events.
type Callback func(Event)

// subscription is one registered callback.
type subscription struct {
	handle   Handle
	kind     Kind
	criteria Criteria
	callback Callback
}

// Registry maps event kinds and criteria to callbacks. Registration order is
// preserved so dispatch is deterministic.
type Registry struct {
	mu   sync.RWMutex
	next Handle
	subs []subscription
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a callback and returns its handle
func (r *Registry) Add(kind Kind, criteria Criteria, cb Callback) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs = append(r.subs, subscription{
		handle:   r.next,
		kind:     kind,
		criteria: criteria,
		callback: cb,
	})
	return r.next
}

// Remove unregisters a callback. Returns false if the handle is unknown.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.handle == h {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered callbacks
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Criteria returns the criteria registered for kind, in registration order
func (r *Registry) Criteria(kind Kind) []Criteria {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Criteria
	for _, sub := range r.subs {
		if sub.kind == kind {
			out = append(out, sub.criteria)
		}
	}
	return out
}

// Match returns the callbacks whose criteria match ev (snapshot)
func (r *Registry) Match(ev Event) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Callback
	for _, sub := range r.subs {
		if sub.kind == ev.Kind && sub.matches(ev) {
			out = append(out, sub.callback)
		}
	}
	return out
}

// matches checks the criteria against an event of the same kind. Filters are
// applied by the server and are not re-evaluated here.
func (s subscription) matches(ev Event) bool {
	switch ev.Kind {
	case KindPostgresChanges:
		change := ev.PostgresChange
		if change == nil {
			return false
		}
		return matchField(s.criteria.Event, change.Type) &&
			matchField(s.criteria.Schema, change.Schema) &&
			matchField(s.criteria.Table, change.Table)
	case KindExecutionLog:
		if ev.ExecutionLog == nil {
			return false
		}
		return matchField(s.criteria.ExecutionID, ev.ExecutionLog.ExecutionID)
	default:
		return matchField(s.criteria.Event, ev.Type)
	}
}

// matchField treats an empty or "*" criterion as a wildcard.
func matchField(want, got string) bool {
	return want == "" || want == EventAll || want == got
}
