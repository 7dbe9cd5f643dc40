// internal/realtime/ack.go
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
)

// tokenAckID is the implicit pending marker for credential rotation. Access
// token acks carry no message id.
const tokenAckID = "__access_token__"

// pendingAck is one outstanding request.
type pendingAck struct {
	id        string
	createdAt time.Time
	timeout   time.Duration
	promise   *future.Promise[bool]
	timer     *time.Timer
}

// AckTracker holds outstanding requests keyed by message id. Every entry is
// completed exactly once: by Resolve, Reject, Clear or its timeout, whichever
// removes it from the map first.
type AckTracker struct {
	mu      sync.Mutex
	pending map[string]*pendingAck
}

// NewAckTracker creates an empty tracker
func NewAckTracker() *AckTracker {
	return &AckTracker{
		pending: make(map[string]*pendingAck),
	}
}

// Register adds a pending entry that fails with ErrAckTimeout after timeout.
// An existing entry with the same id is rejected with ErrSuperseded.
func (t *AckTracker) Register(id string, timeout time.Duration) *future.Future[bool] {
	p := future.NewPromise[bool]()
	entry := &pendingAck{
		id:        id,
		createdAt: time.Now(),
		timeout:   timeout,
		promise:   p,
	}

	t.mu.Lock()
	old := t.pending[id]
	t.pending[id] = entry
	entry.timer = time.AfterFunc(timeout, func() {
		t.complete(id, entry, false, ErrAckTimeout)
	})
	t.mu.Unlock()

	if old != nil {
		old.timer.Stop()
		old.promise.Set(false, ErrSuperseded)
	}
	return p.Future()
}

// Resolve completes the entry as acknowledged
func (t *AckTracker) Resolve(id string) bool {
	return t.complete(id, nil, true, nil)
}

// Reject completes the entry with err
func (t *AckTracker) Reject(id string, err error) bool {
	return t.complete(id, nil, false, err)
}

// Has reports whether id is outstanding
func (t *AckTracker) Has(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Len returns the number of outstanding entries
func (t *AckTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Clear rejects every outstanding entry with err
func (t *AckTracker) Clear(err error) {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[string]*pendingAck)
	t.mu.Unlock()

	for _, entry := range entries {
		entry.timer.Stop()
		entry.promise.Set(false, err)
	}
}

// complete removes id and settles its promise. When only is set, the entry
// is removed only if it is still that entry, so a stale timer cannot settle
// a newer registration with the same id.
func (t *AckTracker) complete(id string, only *pendingAck, ok bool, err error) bool {
	t.mu.Lock()
	entry, found := t.pending[id]
	if !found || (only != nil && entry != only) {
		t.mu.Unlock()
		return false
	}
	delete(t.pending, id)
	t.mu.Unlock()

	entry.timer.Stop()
	entry.promise.Set(ok, err)
	return true
}

// Await waits for fut or ctx. On cancellation the entry is rejected with the
// context error so the waiter and the tracker agree on the outcome.
func (t *AckTracker) Await(ctx context.Context, id string, fut *future.Future[bool]) error {
	done := make(chan error, 1)
	go func() {
		_, err := fut.Get()
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.Reject(id, ctx.Err())
		return <-done
	}
}
