// internal/realtime/dispatch.go
package realtime

import "sync"

// dispatcher runs callbacks one at a time in arrival order on a goroutine of
// its own. The connection's read loop only enqueues, so it keeps reading
// acks while a callback is blocked in an acknowledged Send.
type dispatcher struct {
	mu      sync.Mutex
	idle    *sync.Cond
	queue   []func()
	running bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// enqueue schedules fn after everything queued before it
func (d *dispatcher) enqueue(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()
	go d.drain()
}

// drain runs queued work until the queue is empty, then exits
func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
	}
}

// wait blocks until the queue is empty and nothing is running. Calling it
// from a callback deadlocks.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for d.running {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
