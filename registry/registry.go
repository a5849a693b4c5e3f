// Package registry provides the handler registry shared by the local and
// remote channels of the bus.
//
// A Registry is an ordered multimap from canonical identifier to handler
// entries. Attachment order is preserved and defines invocation order.
// Both channels of a bus own an independent Registry; entries are never
// shared between them, even when the same callback is attached to both.
package registry

import (
	"context"
	"reflect"
	"sync"
)

// Handler is a callback registered under an identifier. The sub argument is
// the opaque subscriber context supplied at attach time; the registry never
// inspects it. A non-nil error aborts the remaining handlers of the emit
// that invoked it and propagates to the emitter.
type Handler func(ctx context.Context, sub any, args ...any) error

// Entry is a registered (callback, context) pair under an identifier.
type Entry struct {
	fn  Handler
	sub any
	// original is set when fn is a single-use adapter, so that removal by
	// the original callback still matches this entry.
	original Handler
}

// Handler returns the callback that will be invoked when the entry fires.
func (e *Entry) Handler() Handler { return e.fn }

// Context returns the opaque subscriber context supplied at attach time.
func (e *Entry) Context() any { return e.sub }

// Registry is an ordered multimap from canonical identifier to handler
// entries. Safe for concurrent use; handlers are invoked without the
// registry lock held, so they may attach and detach reentrantly.
type Registry struct {
	camelCase bool
	mu        sync.RWMutex
	handlers  map[string][]*Entry
}

// New creates an empty registry. When camelCase is true, identifiers are
// folded to camelCase before every lookup and store.
func New(camelCase bool) *Registry {
	return &Registry{
		camelCase: camelCase,
		handlers:  make(map[string][]*Entry),
	}
}

// Canonical returns the registry key for a raw identifier, applying the
// registry's camelCase setting.
func (r *Registry) Canonical(id string) string {
	return Canonical(id, r.camelCase)
}

// Attach appends a handler entry for the identifier. Attaching the same
// callback twice produces two independent entries; avoiding duplicate
// invocation is the caller's responsibility.
func (r *Registry) Attach(id string, fn Handler, sub any) {
	if fn == nil {
		return
	}
	r.attach(&Entry{fn: fn, sub: sub}, r.Canonical(id))
}

// AttachOnce appends a single-use entry for the identifier. The entry
// removes itself from this registry on first invocation, then invokes fn.
// The entry keeps a back-reference to fn, so RemoveCallback with the
// original callback still matches it before it fires.
func (r *Registry) AttachOnce(id string, fn Handler, sub any) {
	if fn == nil {
		return
	}
	key := r.Canonical(id)
	entry := &Entry{original: fn, sub: sub}
	var once sync.Once
	entry.fn = func(ctx context.Context, sub any, args ...any) error {
		var err error
		once.Do(func() {
			r.removeEntry(key, entry)
			err = fn(ctx, sub, args...)
		})
		return err
	}
	r.attach(entry, key)
}

func (r *Registry) attach(e *Entry, key string) {
	r.mu.Lock()
	r.handlers[key] = append(r.handlers[key], e)
	r.mu.Unlock()
}

// ClearAll removes every entry for every identifier.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.handlers = make(map[string][]*Entry)
	r.mu.Unlock()
}

// ClearIdentifier removes every entry for the identifier. Clearing an
// unknown identifier is a no-op.
func (r *Registry) ClearIdentifier(id string) {
	key := r.Canonical(id)
	r.mu.Lock()
	delete(r.handlers, key)
	r.mu.Unlock()
}

// RemoveCallback removes every entry for the identifier whose callback is
// fn, or whose single-use adapter wraps fn. Removing an unknown identifier
// or callback is a no-op.
func (r *Registry) RemoveCallback(id string, fn Handler) {
	if fn == nil {
		return
	}
	key := r.Canonical(id)
	ptr := reflect.ValueOf(fn).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	entries, ok := r.handlers[key]
	if !ok {
		return
	}
	kept := entries[:0]
	for _, e := range entries {
		if reflect.ValueOf(e.fn).Pointer() == ptr {
			continue
		}
		if e.original != nil && reflect.ValueOf(e.original).Pointer() == ptr {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(r.handlers, key)
		return
	}
	r.handlers[key] = kept
}

// removeEntry removes one exact entry. Used by single-use adapters so that
// self-removal never affects sibling entries created from the same literal.
func (r *Registry) removeEntry(key string, target *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, ok := r.handlers[key]
	if !ok {
		return
	}
	for i, e := range entries {
		if e == target {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.handlers, key)
		return
	}
	r.handlers[key] = entries
}

// Emit invokes every entry for the identifier in attachment order, passing
// each entry's subscriber context and args. It reports whether any entries
// were found. The first handler error aborts the remaining invocations and
// is returned to the emitter.
func (r *Registry) Emit(ctx context.Context, id string, args ...any) (bool, error) {
	key := r.Canonical(id)

	r.mu.RLock()
	entries := r.handlers[key]
	snapshot := make([]*Entry, len(entries))
	copy(snapshot, entries)
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return false, nil
	}
	for _, e := range snapshot {
		if err := e.fn(ctx, e.sub, args...); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Count returns the number of entries for the identifier.
func (r *Registry) Count(id string) int {
	key := r.Canonical(id)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key])
}

// Identifiers returns the canonical identifiers that currently have entries.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	return ids
}
