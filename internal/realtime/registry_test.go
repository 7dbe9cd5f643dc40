// internal/realtime/registry_test.go
package realtime

import (
	"testing"
)

func change(event, schema, table string) Event {
	return Event{
		Kind:           KindPostgresChanges,
		Type:           event,
		PostgresChange: &PostgresChange{Type: event, Schema: schema, Table: table},
	}
}

func TestRegistryMatchPostgresChanges(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		event    Event
		want     bool
	}{
		{"exact", Criteria{Event: "INSERT", Schema: "public", Table: "todos"}, change("INSERT", "public", "todos"), true},
		{"wrong event", Criteria{Event: "INSERT", Schema: "public", Table: "todos"}, change("DELETE", "public", "todos"), false},
		{"star event", Criteria{Event: "*", Schema: "public", Table: "todos"}, change("UPDATE", "public", "todos"), true},
		{"empty criteria", Criteria{}, change("UPDATE", "audit", "events"), true},
		{"wrong table", Criteria{Event: "*", Table: "todos"}, change("INSERT", "public", "users"), false},
		{"wrong schema", Criteria{Schema: "private"}, change("INSERT", "public", "todos"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Add(KindPostgresChanges, tt.criteria, func(Event) {})
			got := len(r.Match(tt.event)) == 1
			if got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryMatchByKind(t *testing.T) {
	r := NewRegistry()
	r.Add(KindBroadcast, Criteria{Event: "cursor"}, func(Event) {})
	r.Add(KindPresence, Criteria{Event: PresenceJoin}, func(Event) {})

	if n := len(r.Match(Event{Kind: KindBroadcast, Type: "cursor"})); n != 1 {
		t.Errorf("expected 1 broadcast match, got %d", n)
	}
	if n := len(r.Match(Event{Kind: KindBroadcast, Type: "other"})); n != 0 {
		t.Errorf("expected no match for other event, got %d", n)
	}
	if n := len(r.Match(Event{Kind: KindPresence, Type: PresenceLeave})); n != 0 {
		t.Errorf("expected no presence match for leave, got %d", n)
	}
}

func TestRegistryMatchExecutionLog(t *testing.T) {
	r := NewRegistry()
	r.Add(KindExecutionLog, Criteria{ExecutionID: "exec-1"}, func(Event) {})

	ev := Event{Kind: KindExecutionLog, Type: TypeExecutionLog, ExecutionLog: &ExecutionLog{ExecutionID: "exec-1"}}
	if len(r.Match(ev)) != 1 {
		t.Error("expected match for same execution id")
	}
	ev.ExecutionLog = &ExecutionLog{ExecutionID: "exec-2"}
	if len(r.Match(ev)) != 0 {
		t.Error("expected no match for another execution")
	}
}

func TestRegistryOrderAndRemove(t *testing.T) {
	r := NewRegistry()
	var calls []int
	h1 := r.Add(KindBroadcast, Criteria{}, func(Event) { calls = append(calls, 1) })
	r.Add(KindBroadcast, Criteria{}, func(Event) { calls = append(calls, 2) })
	r.Add(KindBroadcast, Criteria{}, func(Event) { calls = append(calls, 3) })

	for _, cb := range r.Match(Event{Kind: KindBroadcast, Type: "x"}) {
		cb(Event{})
	}
	if len(calls) != 3 || calls[0] != 1 || calls[2] != 3 {
		t.Errorf("expected registration order, got %v", calls)
	}

	if !r.Remove(h1) {
		t.Fatal("remove of known handle should succeed")
	}
	if r.Remove(h1) {
		t.Error("second remove should report false")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 subscriptions, got %d", r.Len())
	}
}

func TestRegistryCriteria(t *testing.T) {
	r := NewRegistry()
	r.Add(KindPostgresChanges, Criteria{Event: "INSERT", Table: "a"}, func(Event) {})
	r.Add(KindBroadcast, Criteria{Event: "x"}, func(Event) {})
	r.Add(KindPostgresChanges, Criteria{Event: "DELETE", Table: "b"}, func(Event) {})

	got := r.Criteria(KindPostgresChanges)
	if len(got) != 2 || got[0].Table != "a" || got[1].Table != "b" {
		t.Errorf("unexpected criteria: %+v", got)
	}
}
