// Package storage implements the ConceptStorage contract (spec §4.A): the
// per-concept state handle that concept handlers read and write. Each
// concept is given an isolated handle backed by a collection of named
// tables; there is no cross-concept visibility.
package storage

import (
	"sort"
	"sync"

	"github.com/Itshalffull/copf/internal/ir"
)

// Filter is a conjunction of field-equals predicates evaluated against a
// stored record. An empty filter matches every record in the collection.
type Filter map[string]ir.Value

// ConceptStorage is the per-concept state handle. Implementations must
// serialize operations on a single handle with respect to that handle;
// no ordering is guaranteed across distinct handles.
type ConceptStorage interface {
	Put(collection, key string, value ir.Record)
	Get(collection, key string) (ir.Record, bool)
	Find(collection string, filter Filter) []ir.Record
	Del(collection, key string)
	DelMany(collection string, filter Filter)
}

// MapStorage is the reference ConceptStorage backend: a nested map
// collection -> key -> value, guarded by a single mutex per handle.
type MapStorage struct {
	mu   sync.Mutex
	data map[string]map[string]ir.Record
}

// NewMapStorage returns an empty nested-map storage handle.
func NewMapStorage() *MapStorage {
	return &MapStorage{data: make(map[string]map[string]ir.Record)}
}

func (m *MapStorage) table(collection string) map[string]ir.Record {
	t, ok := m.data[collection]
	if !ok {
		t = make(map[string]ir.Record)
		m.data[collection] = t
	}
	return t
}

// Put inserts or replaces the record at key in collection.
func (m *MapStorage) Put(collection, key string, value ir.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(collection)[key] = cloneRecord(value)
}

// Get returns the record at key in collection, if present.
func (m *MapStorage) Get(collection, key string) (ir.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[collection][key]
	if !ok {
		return nil, false
	}
	return cloneRecord(v), true
}

// Find returns every record in collection matching filter, as a snapshot
// list: concurrent mutation of the handle after Find returns does not
// affect the already-returned slice. Results are ordered by key for
// determinism.
func (m *MapStorage) Find(collection string, filter Filter) []ir.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.data[collection]
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []ir.Record
	for _, k := range keys {
		rec := table[k]
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out
}

// Del removes the record at key in collection, if present.
func (m *MapStorage) Del(collection, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], key)
}

// DelMany removes every record in collection matching filter.
func (m *MapStorage) DelMany(collection string, filter Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.data[collection]
	for k, rec := range table {
		if matches(rec, filter) {
			delete(table, k)
		}
	}
}

func matches(rec ir.Record, filter Filter) bool {
	for field, want := range filter {
		got, ok := rec[field]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// valueEqual compares two ir.Value for equality using the structural
// deep-equal semantics shared with the invariant runner (spec §4.K):
// equal on primitives; arrays equal by length and elementwise equality;
// records equal by key set and elementwise equality.
func valueEqual(a, b ir.Value) bool {
	switch av := a.(type) {
	case ir.Str:
		bv, ok := b.(ir.Str)
		return ok && av == bv
	case ir.Int:
		bv, ok := b.(ir.Int)
		return ok && av == bv
	case ir.Bool:
		bv, ok := b.(ir.Bool)
		return ok && av == bv
	case ir.Null:
		_, ok := b.(ir.Null)
		return ok
	case ir.List:
		bv, ok := b.(ir.List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case ir.Record:
		bv, ok := b.(ir.Record)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !valueEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func cloneRecord(rec ir.Record) ir.Record {
	if rec == nil {
		return nil
	}
	out := make(ir.Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v ir.Value) ir.Value {
	switch vv := v.(type) {
	case ir.Record:
		return cloneRecord(vv)
	case ir.List:
		out := make(ir.List, len(vv))
		for i, elem := range vv {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// Registry hands out isolated ConceptStorage handles, one per concept
// name, so no handler can reach another concept's state.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*MapStorage
}

// NewRegistry returns an empty per-concept storage registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*MapStorage)}
}

// Handle returns the storage handle for concept, creating it on first use.
func (r *Registry) Handle(concept string) ConceptStorage {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[concept]
	if !ok {
		h = NewMapStorage()
		r.handles[concept] = h
	}
	return h
}
