// Package listener holds the per-connection ordered list of event listeners.
//
// Registration returns a Token; removal matches on both event name and token,
// so an entry is never removed by event name alone. Dispatch iterates a
// point-in-time snapshot, which makes it safe for callbacks to add or remove
// entries (including their own) while a pass is running.
//
// A Registry is not safe for concurrent use. It is owned by one connection and
// mutated only from the run loop.
package listener

import "encoding/json"

// Callback receives the envelope's raw data (nil when the frame carried none).
type Callback func(data json.RawMessage)

// Token identifies one registered entry.
type Token uint64

type entry struct {
	event string
	token Token
	fn    Callback
	once  bool
	fired bool
}

// Registry is an ordered collection of listener entries.
type Registry struct {
	entries []*entry
	next    Token
}

func New() *Registry {
	return &Registry{}
}

// On appends a persistent listener for event.
func (r *Registry) On(event string, fn Callback) Token {
	return r.add(event, fn, false)
}

// Once appends a listener that removes itself after its first invocation.
func (r *Registry) Once(event string, fn Callback) Token {
	return r.add(event, fn, true)
}

func (r *Registry) add(event string, fn Callback, once bool) Token {
	r.next++
	e := &entry{event: event, token: r.next, fn: fn, once: once}

	// Copy-on-write keeps snapshots taken by an in-flight dispatch intact.
	entries := make([]*entry, len(r.entries), len(r.entries)+1)
	copy(entries, r.entries)
	r.entries = append(entries, e)
	return e.token
}

// Off removes the entry registered under both event and token.
// It reports whether anything was removed; removing an absent entry is a no-op.
func (r *Registry) Off(event string, token Token) bool {
	return r.remove(func(e *entry) bool {
		return e.event == event && e.token == token
	})
}

func (r *Registry) remove(match func(*entry) bool) bool {
	kept := make([]*entry, 0, len(r.entries))
	removed := false
	for _, e := range r.entries {
		if match(e) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if removed {
		r.entries = kept
	}
	return removed
}

// Dispatch invokes, in registration order, every entry registered for event
// at the moment Dispatch was called. It returns how many callbacks ran.
func (r *Registry) Dispatch(event string, data json.RawMessage) int {
	snapshot := r.entries
	invoked := 0
	for _, e := range snapshot {
		if e.event != event {
			continue
		}
		if e.once {
			if e.fired {
				continue
			}
			e.fired = true
			r.invokeOnce(e, data)
		} else {
			e.fn(data)
		}
		invoked++
	}
	return invoked
}

func (r *Registry) invokeOnce(e *entry, data json.RawMessage) {
	defer r.remove(func(other *entry) bool { return other == e })
	e.fn(data)
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Clear discards every entry.
func (r *Registry) Clear() {
	r.entries = nil
}
