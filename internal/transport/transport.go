// Package transport implements the in-process Transport adapter (spec
// §4.B): it wraps one concept's handler map plus a storage handle, and
// adapts invocations to completions by calling the handler, timing it, and
// assigning a completion id and timestamp.
package transport

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/storage"
)

// HandlerFn is the concept handler contract from spec §6: given an
// action's input and the concept's storage handle, produce a variant and
// its outputs, or an error if the handler itself faults.
type HandlerFn func(input ir.Record, store storage.ConceptStorage) (variant string, output ir.Record, err error)

// HandlerMap looks up a HandlerFn by action name.
type HandlerMap map[string]HandlerFn

// Transport adapts a concept's handler to the invoke(invocation) ->
// completion contract used by the registry and engine.
type Transport interface {
	Invoke(ctx context.Context, inv ir.Invocation) (ir.Completion, error)
}

// InProcess is the reference Transport: it calls the handler directly in
// the caller's goroutine.
type InProcess struct {
	concept  string
	handlers HandlerMap
	store    storage.ConceptStorage
	now      func() int64
	seq      atomic.Int64
}

// NewInProcess builds an in-process transport for concept, dispatching to
// handlers against store. now defaults to the wall clock in milliseconds.
func NewInProcess(concept string, handlers HandlerMap, store storage.ConceptStorage) *InProcess {
	return &InProcess{
		concept:  concept,
		handlers: handlers,
		store:    store,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock overrides the transport's timestamp source, for deterministic
// tests.
func (t *InProcess) WithClock(now func() int64) *InProcess {
	t.now = now
	return t
}

// Invoke calls the handler for inv.Action, synthesizing a handler_error
// completion if the handler faults or no handler is registered for the
// action.
func (t *InProcess) Invoke(ctx context.Context, inv ir.Invocation) (ir.Completion, error) {
	seq := t.seq.Add(1)

	handler, ok := t.handlers[inv.Action]
	if !ok {
		return t.errorCompletion(inv, seq, "handler_error", "no handler registered for action "+inv.Action)
	}

	variant, output, err := handler(inv.Input, t.store)
	if err != nil {
		return t.errorCompletion(inv, seq, "error", err.Error())
	}

	if output == nil {
		output = ir.Record{}
	}

	id, err := ir.CompletionID(inv.ID, variant, output, seq)
	if err != nil {
		return ir.Completion{}, err
	}

	return ir.Completion{
		ID:           id,
		Concept:      t.concept,
		Action:       inv.Action,
		Input:        inv.Input,
		Variant:      variant,
		Output:       output,
		Flow:         inv.Flow,
		Parent:       inv.ID,
		Timestamp:    t.now(),
		Seq:          seq,
		InvocationID: inv.ID,
	}, nil
}

func (t *InProcess) errorCompletion(inv ir.Invocation, seq int64, variant, reason string) (ir.Completion, error) {
	output := ir.Record{"reason": ir.Str(reason)}
	id, err := ir.CompletionID(inv.ID, variant, output, seq)
	if err != nil {
		return ir.Completion{}, err
	}
	return ir.Completion{
		ID:           id,
		Concept:      t.concept,
		Action:       inv.Action,
		Input:        inv.Input,
		Variant:      variant,
		Output:       output,
		Flow:         inv.Flow,
		Parent:       inv.ID,
		Timestamp:    t.now(),
		Seq:          seq,
		InvocationID: inv.ID,
	}, nil
}
