// Package hooks dispatches class load events to an ordered set of hooks
// that may rewrite the class bytes.
package hooks

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/classweave/pkg/launch"
	"github.com/eapache/queue"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("classweave.hooks")

// Event is one class load. Name is the internal class name.
type Event struct {
	Loader launch.LoaderID
	Name   string
	Bytes  []byte
}

// Hook sees load events. Handle returns the replacement bytes, or nil to
// leave the class as it is. Hooks must be comparable; Deregister finds
// them by equality.
type Hook interface {
	Name() string
	Handle(ev *Event) ([]byte, error)
}

// ErrorHandler receives hook failures. A recovered panic arrives as a
// *PanicError.
type ErrorHandler func(h Hook, ev *Event, err error)

// PanicError is a panic recovered from a hook.
type PanicError struct {
	Hook  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("hook %s panicked: %v", e.Hook, e.Value)
}

type entry struct {
	hook    Hook
	removed atomic.Bool
}

type pendingOp struct {
	add   bool
	entry *entry
}

// Stats are registry counters.
type Stats struct {
	Dispatches int64
	Rewrites   int64
	Errors     int64
	Panics     int64
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds hooks in registration order. Dispatch reads an
// immutable snapshot without locking. Changes requested while a dispatch
// is in flight are queued and applied, in order, as soon as any dispatch
// returns, so a hook registered while handling one event sees the next
// event to start after it even when other dispatches are still running.
// A deregistered hook stops receiving events at once.
type Registry struct {
	mu       sync.Mutex
	live     []*entry // registered and not removed, including queued adds
	pending  *queue.Queue
	snapshot atomic.Pointer[[]*entry]
	inflight atomic.Int64
	queued   atomic.Int64 // pending.Length(), readable without mu

	onError ErrorHandler

	dispatches atomic.Int64
	rewrites   atomic.Int64
	errors     atomic.Int64
	panics     atomic.Int64
}

// NewRegistry returns an empty registry. onError may be nil, in which
// case failures are only logged.
func NewRegistry(onError ErrorHandler) *Registry {
	r := &Registry{pending: queue.New(), onError: onError}
	r.snapshot.Store(&[]*entry{})
	return r
}

// Register appends h.
func (r *Registry) Register(h Hook) {
	e := &entry{hook: h}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, e)
	r.submit(pendingOp{add: true, entry: e})
}

// Deregister removes every registration of h and reports whether there
// was one. h receives no further events, including later hooks' turn in
// an event already being dispatched.
func (r *Registry) Deregister(h Hook) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	kept := r.live[:0]
	for _, e := range r.live {
		if e.hook == h {
			e.removed.Store(true)
			r.submit(pendingOp{entry: e})
			found = true
			continue
		}
		kept = append(kept, e)
	}
	clear(r.live[len(kept):])
	r.live = kept
	return found
}

// submit applies op now, or queues it while dispatches are in flight.
// Callers hold r.mu.
func (r *Registry) submit(op pendingOp) {
	if r.inflight.Load() == 0 && r.pending.Length() == 0 {
		r.apply(op)
		return
	}
	r.pending.Add(op)
	r.queued.Add(1)
	// A dispatch that finished after the check above may have missed the
	// queued count.
	if r.inflight.Load() == 0 {
		r.applyPending()
	}
}

// apply swaps in a new snapshot. Callers hold r.mu.
func (r *Registry) apply(op pendingOp) {
	cur := *r.snapshot.Load()
	var next []*entry
	if op.add {
		if op.entry.removed.Load() {
			return
		}
		next = make([]*entry, len(cur), len(cur)+1)
		copy(next, cur)
		next = append(next, op.entry)
	} else {
		next = make([]*entry, 0, len(cur))
		for _, e := range cur {
			if e != op.entry {
				next = append(next, e)
			}
		}
	}
	r.snapshot.Store(&next)
}

// applyPending applies every queued change in order. Callers hold r.mu.
func (r *Registry) applyPending() {
	for r.pending.Length() > 0 {
		r.apply(r.pending.Remove().(pendingOp))
	}
	r.queued.Store(0)
}

// drain applies queued changes after a dispatch returns. Dispatches still
// in flight keep the snapshot they started with.
func (r *Registry) drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyPending()
}

// Dispatch runs the registered hooks over ev in order, each seeing the
// bytes the previous one produced. It returns the final bytes and
// whether any hook changed them. ev is not modified.
func (r *Registry) Dispatch(ev *Event) ([]byte, bool) {
	r.inflight.Add(1)
	snap := *r.snapshot.Load()
	defer func() {
		r.inflight.Add(-1)
		if r.queued.Load() > 0 {
			r.drain()
		}
	}()
	r.dispatches.Add(1)

	cur := ev.Bytes
	changed := false
	for _, e := range snap {
		if e.removed.Load() {
			continue
		}
		hev := &Event{Loader: ev.Loader, Name: ev.Name, Bytes: cur}
		if out := r.run(e.hook, hev); out != nil {
			cur = out
			changed = true
		}
	}
	if changed {
		r.rewrites.Add(1)
	}
	return cur, changed
}

func (r *Registry) run(h Hook, ev *Event) (out []byte) {
	defer func() {
		if v := recover(); v != nil {
			r.panics.Add(1)
			err := &PanicError{Hook: h.Name(), Value: v}
			log.Criticalf("%s on %s", err, ev.Name)
			r.report(h, ev, err)
			out = nil
		}
	}()
	out, err := h.Handle(ev)
	if err != nil {
		r.errors.Add(1)
		r.report(h, ev, err)
		return nil
	}
	return out
}

func (r *Registry) report(h Hook, ev *Event, err error) {
	if r.onError != nil {
		r.onError(h, ev, err)
		return
	}
	log.Errorf("hook %s on %s: %s", h.Name(), ev.Name, err)
}

// Len returns the number of hooks that will see the next event.
func (r *Registry) Len() int {
	n := 0
	for _, e := range *r.snapshot.Load() {
		if !e.removed.Load() {
			n++
		}
	}
	return n
}

// Names returns the names of the hooks that will see the next event, in
// order.
func (r *Registry) Names() []string {
	var names []string
	for _, e := range *r.snapshot.Load() {
		if !e.removed.Load() {
			names = append(names, e.hook.Name())
		}
	}
	return names
}

// Pending returns the number of queued changes.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Length()
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Dispatches: r.dispatches.Load(),
		Rewrites:   r.rewrites.Load(),
		Errors:     r.errors.Load(),
		Panics:     r.panics.Load(),
	}
}
