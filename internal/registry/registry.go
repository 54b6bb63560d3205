// Package registry implements the concept registry (spec §4.B): a mapping
// from concept URI to the Transport that handles it, plus the versioning
// and migration gate supplemented in SPEC_FULL §4.L. URIs are the only
// handle the engine uses to reach a concept; registration order does not
// matter and re-registration replaces the existing entry.
package registry

import (
	"context"
	"sync"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/transport"
)

type entry struct {
	transport transport.Transport
	version   int
}

// Registry resolves concept URIs to transports and gates dispatch when the
// registered implementation is older than an invocation requires.
type Registry struct {
	mu      sync.Mutex
	entries map[ir.ConceptURI]entry
	pending map[ir.ConceptURI][]ir.Invocation
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[ir.ConceptURI]entry),
		pending: make(map[ir.ConceptURI][]ir.Invocation),
	}
}

// Register associates uri with t at the given concept version, replacing
// any existing registration for that URI.
func (r *Registry) Register(uri ir.ConceptURI, t transport.Transport, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[uri] = entry{transport: t, version: version}
}

// Lookup returns the Transport registered for uri, or false if none is
// registered.
func (r *Registry) Lookup(uri ir.ConceptURI) (transport.Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// Version returns the version currently registered for uri.
func (r *Registry) Version(uri ir.ConceptURI) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[uri]
	if !ok {
		return 0, false
	}
	return e.version, true
}

// Dispatch resolves uri and invokes it. If no transport is registered, it
// synthesizes a registry_missing error completion. If the registered
// version is lower than requiredVersion, the invocation is queued (per
// spec.md §7's migration_required error kind) and a migration_required
// error completion is returned instead of dispatching.
func (r *Registry) Dispatch(ctx context.Context, uri ir.ConceptURI, inv ir.Invocation, requiredVersion int) (ir.Completion, error) {
	r.mu.Lock()
	e, ok := r.entries[uri]
	if ok && e.version < requiredVersion {
		r.pending[uri] = append(r.pending[uri], inv)
	}
	r.mu.Unlock()

	if !ok {
		return registryMissingCompletion(inv), nil
	}
	if e.version < requiredVersion {
		return migrationRequiredCompletion(inv), nil
	}

	return e.transport.Invoke(ctx, inv)
}

// Migrate bumps uri's registered version to newVersion and returns every
// invocation that was queued behind the gate, in the order they were
// originally dispatched, for the caller to retry.
func (r *Registry) Migrate(uri ir.ConceptURI, newVersion int) []ir.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uri]
	if ok {
		e.version = newVersion
		r.entries[uri] = e
	}

	queued := r.pending[uri]
	delete(r.pending, uri)
	return queued
}

func registryMissingCompletion(inv ir.Invocation) ir.Completion {
	return ir.Completion{
		ID:        ir.MustCompletionID(inv.ID, "error", ir.Record{"reason": ir.Str("registry_missing")}, 0),
		Concept:   inv.Concept,
		Action:    inv.Action,
		Input:     inv.Input,
		Variant:   "error",
		Output:    ir.Record{"reason": ir.Str("registry_missing")},
		Flow:      inv.Flow,
		Parent:    inv.ID,
		Timestamp: inv.Timestamp,
	}
}

func migrationRequiredCompletion(inv ir.Invocation) ir.Completion {
	return ir.Completion{
		ID:        ir.MustCompletionID(inv.ID, "error", ir.Record{"reason": ir.Str("migration_required")}, 0),
		Concept:   inv.Concept,
		Action:    inv.Action,
		Input:     inv.Input,
		Variant:   "error",
		Output:    ir.Record{"reason": ir.Str("migration_required")},
		Flow:      inv.Flow,
		Parent:    inv.ID,
		Timestamp: inv.Timestamp,
	}
}
