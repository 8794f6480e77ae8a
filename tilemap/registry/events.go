package registry

// EventKind names the operation that changed the registry.
type EventKind string

const (
	EventInit   EventKind = "init"
	EventLoad   EventKind = "load"
	EventAdd    EventKind = "add"
	EventImport EventKind = "import"
	EventRemove EventKind = "remove"
	EventUpdate EventKind = "update"
	EventSave   EventKind = "save"
	EventSelect EventKind = "select"
)

// Event is delivered to subscribers after a state change. Seq increases by
// one with every change, in the order the changes were applied.
type Event struct {
	Seq   uint64    `json:"seq"`
	Kind  EventKind `json:"event"`
	Name  string    `json:"name,omitempty"`
	State State     `json:"state"`
}

// Subscribe registers fn for every future event. The returned function
// removes the subscription.
//
// Events reach subscribers in Seq order, one at a time. Delivery happens on
// whichever goroutine is draining the queue, so an operation may return
// before its own event was delivered. Subscribers may call back into the
// registry, including mutating methods; the resulting events are queued
// behind the current one.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn

	return func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		delete(r.subs, id)
	}
}

// enqueueLocked records a change. r.mu must be held so that queue order
// matches the order in which state changed.
func (r *Registry) enqueueLocked(kind EventKind, name string) {
	r.seq++
	e := Event{Seq: r.seq, Kind: kind, Name: name, State: r.state.clone()}

	r.queueMu.Lock()
	r.queue = append(r.queue, e)
	r.queueMu.Unlock()
}

// flush delivers queued events unless another goroutine already is.
// Call it after releasing r.mu.
func (r *Registry) flush() {
	r.queueMu.Lock()
	if r.draining {
		r.queueMu.Unlock()
		return
	}
	r.draining = true
	finished := false
	defer func() {
		// A panicking subscriber must not leave the queue stuck.
		if !finished {
			r.queueMu.Lock()
			r.draining = false
			r.queueMu.Unlock()
		}
	}()

	for {
		if len(r.queue) == 0 {
			r.draining = false
			finished = true
			r.queueMu.Unlock()
			return
		}
		e := r.queue[0]
		r.queue = r.queue[1:]
		r.queueMu.Unlock()
		r.deliver(e)
		r.queueMu.Lock()
	}
}

func (r *Registry) deliver(e Event) {
	r.subsMu.Lock()
	fns := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subsMu.Unlock()

	for _, fn := range fns {
		ev := e
		ev.State = e.State.clone()
		fn(ev)
	}
}
