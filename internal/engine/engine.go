package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/store"
)

// FlowTokenGenerator generates unique flow tokens for request correlation.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
// See flow.go for implementations.
type FlowTokenGenerator interface {
	Generate() string
}

// DefaultMaxSteps is the default maximum number of completions processed
// per flow before the engine refuses to evaluate further sync rules for it.
const DefaultMaxSteps = 1000

// Engine is the single-writer sync engine event loop.
//
// The engine processes events (invocations and completions) in FIFO order,
// evaluates sync rules against completions, and generates follow-on
// invocations. Eager-mode syncs fire inline as part of completion
// processing; lazy-mode syncs accumulate and only fire when FlushLazy is
// polled.
//
// CRITICAL: All mutations happen in the single-writer Run loop goroutine.
// External callers use Enqueue() to submit events for processing.
//
// INVARIANTS:
//   - syncs slice order NEVER changes after construction (deterministic
//     evaluation order)
//   - sync rule joins are scoped to a single flow unless the rule opts
//     into "global" or "keyed" scope
type Engine struct {
	store         *store.Store
	clock         *Clock
	specs         []ir.ConceptSpec
	syncs         []ir.SyncRule // declaration order preserved
	queue         *eventQueue
	flowGen       FlowTokenGenerator
	cycleDetector *CycleDetector

	maxSteps int
	quotas   map[string]*QuotaEnforcer

	now      func() int64 // wall-clock ms, for Invocation.Timestamp and now() builtin
	newUUID  func() string // uuid() where-builtin

	dispatcher InvocationDispatcher
}

// InvocationDispatcher executes an invocation against its concept's real
// handler and returns the resulting completion. Spec §4.B leaves dispatch
// external to the engine by default (a caller polls invocations and
// Enqueues completions by hand); WithDispatcher lets the engine drive that
// call itself, synchronously, from within the single-writer loop, so a
// fired sync's then-clause invocation is executed and its completion fed
// back through the normal sync-evaluation path without an external pump.
type InvocationDispatcher interface {
	Dispatch(ctx context.Context, inv ir.Invocation) (ir.Completion, error)
}

// WithDispatcher installs an InvocationDispatcher. When set, every
// invocation processed by the Run loop is dispatched inline and its
// completion is enqueued automatically; when unset (the default), the
// engine only persists invocations and leaves dispatch to the caller.
func WithDispatcher(d InvocationDispatcher) EngineOption {
	return func(e *Engine) { e.dispatcher = d }
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithMaxSteps sets the maximum steps quota per flow.
func WithMaxSteps(maxSteps int) EngineOption {
	return func(e *Engine) { e.maxSteps = maxSteps }
}

// WithWallClock overrides the wall-clock function used for Invocation
// timestamps and the now() where-builtin. Tests use this for determinism.
func WithWallClock(fn func() int64) EngineOption {
	return func(e *Engine) { e.now = fn }
}

// WithUUIDFunc overrides the generator used for the uuid() where-builtin.
// Tests use this for determinism.
func WithUUIDFunc(fn func() string) EngineOption {
	return func(e *Engine) { e.newUUID = fn }
}

func defaultNow() int64 { return time.Now().UnixMilli() }

func defaultUUID() string { return uuid.Must(uuid.NewV7()).String() }

// New creates an Engine with the given store, specs, syncs, and flow generator.
//
// The syncs slice must be in declaration order - this order is preserved
// for deterministic sync rule evaluation, and is copied to prevent
// external mutation from breaking that invariant.
func New(
	s *store.Store,
	specs []ir.ConceptSpec,
	syncs []ir.SyncRule,
	flowGen FlowTokenGenerator,
	opts ...EngineOption,
) *Engine {
	return NewWithClock(s, specs, syncs, flowGen, NewClock(), opts...)
}

// NewWithClock creates an Engine with a pre-configured logical clock.
// Used for replay to resume from a specific sequence number.
func NewWithClock(
	s *store.Store,
	specs []ir.ConceptSpec,
	syncs []ir.SyncRule,
	flowGen FlowTokenGenerator,
	clock *Clock,
	opts ...EngineOption,
) *Engine {
	syncsCopy := make([]ir.SyncRule, len(syncs))
	copy(syncsCopy, syncs)

	e := &Engine{
		store:         s,
		clock:         clock,
		specs:         specs,
		syncs:         syncsCopy,
		queue:         newEventQueue(),
		flowGen:       flowGen,
		cycleDetector: NewCycleDetector(),
		maxSteps:      DefaultMaxSteps,
		quotas:        make(map[string]*QuotaEnforcer),
		now:           defaultNow,
		newUUID:       defaultUUID,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Enqueue submits an event for processing by the Run loop.
// Thread-safe: may be called from any goroutine.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// NewFlow generates a new flow token for an external request.
// Thread-safe: may be called from any goroutine.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// Run starts the single-writer event loop. Blocks until context is
// cancelled or Stop() is called.
//
// ERROR HANDLING: on event processing failure, the error is logged with
// full event context and processing continues. This "log and continue"
// behavior is intentional for determinism - silent retries would make
// replay diverge from the original run.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine, causing Run() to return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Drain synchronously processes every event currently enqueued - including
// any invocation or completion enqueued as a side effect of processing an
// earlier one, such as a fired sync's follow-on invocation or a
// dispatcher's completion - until the queue is empty. Unlike Run, it does
// not block waiting for new events to arrive; it returns as soon as there
// is nothing left to process. Intended for synchronous callers (tests, the
// conformance harness) that enqueue a batch of work and want it fully
// settled before inspecting the store.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			return nil
		}
		if err := e.processEvent(ctx, event); err != nil {
			logEventError(event, err)
		}
	}
}

// processEvent routes an event to the appropriate handler.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeInvocation:
		if event.Invocation == nil {
			return fmt.Errorf("invocation event missing invocation data")
		}
		return e.processInvocation(ctx, event.Invocation)

	case EventTypeCompletion:
		if event.Completion == nil {
			return fmt.Errorf("completion event missing completion data")
		}
		return e.processCompletion(ctx, event.Completion)

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// processInvocation writes an invocation to the store. The invocation's
// actual execution (dispatch to the concept implementation) happens
// outside the engine; callers poll the store and submit the resulting
// completion back via Enqueue.
func (e *Engine) processInvocation(ctx context.Context, inv *ir.Invocation) error {
	slog.Debug("processing invocation", "id", inv.ID, "concept", inv.Concept, "action", inv.Action, "flow", inv.Flow, "seq", inv.Seq)

	if err := e.store.WriteInvocation(ctx, *inv); err != nil {
		return fmt.Errorf("write invocation %s: %w", inv.ID, err)
	}

	slog.Info("invocation written", "id", inv.ID, "concept", inv.Concept, "action", inv.Action, "flow", inv.Flow)

	if e.dispatcher != nil {
		comp, err := e.dispatcher.Dispatch(ctx, *inv)
		if err != nil {
			return fmt.Errorf("dispatch invocation %s: %w", inv.ID, err)
		}
		e.queue.Enqueue(Event{Type: EventTypeCompletion, Completion: &comp})
	}

	return nil
}

// processCompletion writes a completion to the store, then evaluates
// eager-mode sync rules against it. Lazy-mode rules are skipped here and
// only evaluated when FlushLazy is called.
func (e *Engine) processCompletion(ctx context.Context, comp *ir.Completion) error {
	slog.Debug("processing completion", "id", comp.ID, "concept", comp.Concept, "action", comp.Action, "variant", comp.Variant, "flow", comp.Flow, "seq", comp.Seq)

	if err := e.store.WriteCompletion(ctx, *comp); err != nil {
		return fmt.Errorf("write completion %s: %w", comp.ID, err)
	}

	slog.Info("completion written", "id", comp.ID, "concept", comp.Concept, "action", comp.Action, "variant", comp.Variant)

	quota := e.QuotaFor(comp.Flow)
	if err := quota.Check(comp.Flow); err != nil {
		slog.Error("max steps quota exceeded", "flow", comp.Flow, "completion_id", comp.ID, "steps", quota.Current(), "limit", e.maxSteps)
		return fmt.Errorf("quota enforcement failed: %w", err)
	}

	for _, sync := range e.syncs {
		if sync.Mode == ir.ModeLazy {
			continue
		}
		if err := e.evaluateSync(ctx, sync, comp); err != nil {
			slog.Error("sync rule evaluation failed", "sync_id", sync.ID, "completion_id", comp.ID, "error", err)
			continue
		}
	}

	return nil
}

// FlushLazy evaluates every lazy-mode sync rule against the completions
// currently recorded for flowToken (or, for global/keyed scope, against
// the whole store), firing any that are newly satisfied. Polled
// explicitly by callers rather than run inline with completion processing.
func (e *Engine) FlushLazy(ctx context.Context, flowToken string) error {
	for _, sync := range e.syncs {
		if sync.Mode != ir.ModeLazy {
			continue
		}

		candidates, err := e.candidatesForScope(ctx, sync.Scope, flowToken)
		if err != nil {
			return fmt.Errorf("lazy flush %s: gather candidates: %w", sync.ID, err)
		}

		for idx, when := range sync.When {
			for i := range candidates {
				cand := &candidates[i]
				if !matchClauseShape(when, cand) {
					continue
				}
				if err := e.evaluateSyncFrom(ctx, sync, idx, cand, candidates); err != nil {
					slog.Error("lazy sync rule evaluation failed", "sync_id", sync.ID, "completion_id", cand.ID, "error", err)
				}
			}
		}
	}
	return nil
}

// evaluateSync checks whether comp satisfies any clause of sync, and if
// so attempts to complete the join against the rest of the flow.
func (e *Engine) evaluateSync(ctx context.Context, sync ir.SyncRule, comp *ir.Completion) error {
	candidates, err := e.candidatesForScope(ctx, sync.Scope, comp.Flow)
	if err != nil {
		return fmt.Errorf("gather candidates: %w", err)
	}

	for idx, when := range sync.When {
		if !matchClauseShape(when, comp) {
			continue
		}
		if err := e.evaluateSyncFrom(ctx, sync, idx, comp, candidates); err != nil {
			return err
		}
	}
	return nil
}

// evaluateSyncFrom fixes trigger as the witness for clause index
// triggerIdx, completes the remaining join positions against candidates,
// applies the where-clause to each resulting environment, and fires the
// sync for every surviving binding set.
func (e *Engine) evaluateSyncFrom(ctx context.Context, sync ir.SyncRule, triggerIdx int, trigger *ir.Completion, candidates []ir.Completion) error {
	envs, err := joinClauses(sync.When, triggerIdx, trigger, candidates)
	if err != nil {
		return fmt.Errorf("join clauses: %w", err)
	}

	for _, env := range envs {
		finalEnv, ok, err := e.applyWhereOps(sync.Where, env)
		if err != nil {
			slog.Warn("where-clause evaluation failed", "sync_id", sync.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		if err := e.fireSync(ctx, sync, trigger, finalEnv); err != nil {
			if IsCycleError(err) {
				slog.Warn("sync rule would cycle, skipping", "sync_id", sync.ID, "flow", trigger.Flow)
				continue
			}
			slog.Error("sync rule firing failed", "sync_id", sync.ID, "completion_id", trigger.ID, "error", err)
			continue
		}
	}

	return nil
}

// candidatesForScope returns the pool of completions a sync rule's join
// clauses may draw witnesses from, per its scope spec.
//
// "flow" (the default) restricts candidates to the triggering flow - this
// is what makes cross-flow joins impossible unless explicitly opted into.
// "global" and "keyed" draw from the whole action log; for "keyed",
// cross-clause consistency of the key field is still enforced by ordinary
// capture-or-assert binding (the key variable, bound once, must match
// everywhere it recurs).
func (e *Engine) candidatesForScope(ctx context.Context, scope ir.ScopeSpec, flowToken string) ([]ir.Completion, error) {
	scope = NormalizeScope(scope)
	if err := ValidateScopeMode(scope.Mode); err != nil {
		return nil, err
	}
	if ScopeMode(scope.Mode) == ScopeModeKeyed && scope.Key == "" {
		return nil, fmt.Errorf("keyed scope requires non-empty key field")
	}

	switch ScopeMode(scope.Mode) {
	case ScopeModeFlow:
		_, completions, err := e.store.ReadFlow(ctx, flowToken)
		return completions, err
	default: // global, keyed
		return e.store.ReadAllCompletions(ctx)
	}
}

// fireSync computes the binding hash, checks for cycles, generates the
// then-clause invocation, and atomically persists the sync firing,
// invocation, and provenance edge. If the (completion, sync, binding)
// triple has already fired, this is a no-op (idempotent replay).
func (e *Engine) fireSync(ctx context.Context, sync ir.SyncRule, trigger *ir.Completion, env ir.Record) error {
	bindingHash, err := ir.BindingHash(env)
	if err != nil {
		return fmt.Errorf("compute binding hash: %w", err)
	}

	if e.cycleDetector.WouldCycle(trigger.Flow, sync.ID, bindingHash) {
		return NewCycleError(trigger.Flow, sync.ID, bindingHash)
	}

	for _, then := range sync.Then {
		inv, err := e.generateInvocation(then, sync.ID, trigger.Flow, trigger.ID, env)
		if err != nil {
			return fmt.Errorf("generate invocation: %w", err)
		}

		firing := ir.SyncFiring{
			CompletionID: trigger.ID,
			SyncID:       sync.ID,
			BindingHash:  bindingHash,
			Seq:          e.clock.Next(),
		}

		_, inserted, err := e.store.WriteSyncFiringAtomic(ctx, firing, inv)
		if err != nil {
			return fmt.Errorf("atomic sync firing: %w", err)
		}

		if !inserted {
			slog.Debug("sync already fired, skipping (idempotent)", "sync_id", sync.ID, "completion_id", trigger.ID, "binding_hash", bindingHash)
			continue
		}

		e.cycleDetector.Record(trigger.Flow, sync.ID, bindingHash)
		e.queue.Enqueue(Event{Type: EventTypeInvocation, Invocation: &inv})

		slog.Info("sync fired", "sync_id", sync.ID, "completion_id", trigger.ID, "invocation_id", inv.ID, "flow", trigger.Flow)
	}

	return nil
}

// generateInvocation builds an invocation from a then-clause template and
// a bound environment. The flow token is INHERITED from the triggering
// completion, never generated mid-flow.
func (e *Engine) generateInvocation(then ir.ThenClause, syncID, flowToken, parent string, env ir.Record) (ir.Invocation, error) {
	if flowToken == "" {
		return ir.Invocation{}, fmt.Errorf("flow token is required")
	}

	args := make(ir.Record, len(then.Args))
	for name, bv := range then.Args {
		val, err := resolveBindingValue(bv, env)
		if err != nil {
			return ir.Invocation{}, fmt.Errorf("resolve arg %q: %w", name, err)
		}
		args[name] = val
	}

	seq := e.clock.Next()
	conceptAction := then.Concept + "." + then.Action
	id, err := ir.InvocationID(flowToken, conceptAction, args, seq)
	if err != nil {
		return ir.Invocation{}, fmt.Errorf("compute invocation ID: %w", err)
	}

	return ir.Invocation{
		ID:        id,
		Concept:   then.Concept,
		Action:    then.Action,
		Input:     args,
		Flow:      flowToken,
		Sync:      syncID,
		Parent:    parent,
		Timestamp: e.now(),
		Seq:       seq,
	}, nil
}

// resolveBindingValue evaluates a BindingValue against a bound environment,
// producing the runtime Value it denotes.
func resolveBindingValue(bv ir.BindingValue, env ir.Record) (ir.Value, error) {
	switch b := bv.(type) {
	case ir.BLiteral:
		return b.Value, nil

	case ir.BVariable:
		val, ok := env[b.Name]
		if !ok {
			return nil, fmt.Errorf("unbound variable %q", b.Name)
		}
		return val, nil

	case ir.BRecord:
		rec := make(ir.Record, len(b.Fields))
		for field, sub := range b.Fields {
			val, err := resolveBindingValue(sub, env)
			if err != nil {
				return nil, err
			}
			rec[field] = val
		}
		return rec, nil

	case ir.BList:
		list := make(ir.List, len(b.Items))
		for i, sub := range b.Items {
			val, err := resolveBindingValue(sub, env)
			if err != nil {
				return nil, err
			}
			list[i] = val
		}
		return list, nil

	default:
		return nil, fmt.Errorf("unrecognized binding value type %T", bv)
	}
}

// RegisterSyncs replaces the registered sync rules, in declaration order.
// Passing nil clears any previously registered rules.
func (e *Engine) RegisterSyncs(syncs []ir.SyncRule) error {
	if syncs == nil {
		e.syncs = nil
		return nil
	}

	seen := make(map[string]bool, len(syncs))
	for _, sync := range syncs {
		if seen[sync.ID] {
			return fmt.Errorf("duplicate sync ID: %s", sync.ID)
		}
		seen[sync.ID] = true

		if len(sync.When) == 0 {
			return fmt.Errorf("sync %s: at least one when-clause is required", sync.ID)
		}
		if err := ValidateScopeMode(sync.Scope.Mode); err != nil {
			return fmt.Errorf("sync %s: %w", sync.ID, err)
		}
	}

	e.syncs = make([]ir.SyncRule, len(syncs))
	copy(e.syncs, syncs)
	return nil
}

// Syncs returns the registered sync rules in declaration order.
func (e *Engine) Syncs() []ir.SyncRule { return e.syncs }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// QueueLen returns the current number of pending events.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// ClearFlowCycleHistory removes cycle detection history for a flow.
func (e *Engine) ClearFlowCycleHistory(flowToken string) {
	e.cycleDetector.Clear(flowToken)
}

// CycleDetectorForTesting returns the cycle detector for testing purposes.
func (e *Engine) CycleDetectorForTesting() *CycleDetector {
	return e.cycleDetector
}

// CleanupFlow removes the quota enforcer and cycle history for a
// completed flow, preventing unbounded memory growth across many flows.
func (e *Engine) CleanupFlow(flowToken string) {
	delete(e.quotas, flowToken)
	e.cycleDetector.Clear(flowToken)
}

// MaxSteps returns the configured maximum steps per flow.
func (e *Engine) MaxSteps() int { return e.maxSteps }

// QuotaFor returns or creates the quota enforcer for a specific flow.
func (e *Engine) QuotaFor(flowToken string) *QuotaEnforcer {
	if q, ok := e.quotas[flowToken]; ok {
		return q
	}
	q := NewQuotaEnforcer(e.maxSteps)
	e.quotas[flowToken] = q
	return q
}

// QuotaCount returns the number of active quota enforcers. Used in tests
// to verify CleanupFlow behavior.
func (e *Engine) QuotaCount() int { return len(e.quotas) }

// logEventError logs an event processing failure with full context so a
// failed event can be investigated and, if appropriate, replayed manually.
func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeInvocation:
		if event.Invocation != nil {
			slog.Error("invocation processing failed", "error", err, "invocation_id", event.Invocation.ID, "flow", event.Invocation.Flow, "concept", event.Invocation.Concept, "action", event.Invocation.Action, "seq", event.Invocation.Seq)
		} else {
			slog.Error("invocation processing failed", "error", err, "event_type", "invocation", "note", "invocation data was nil")
		}

	case EventTypeCompletion:
		if event.Completion != nil {
			slog.Error("completion processing failed", "error", err, "completion_id", event.Completion.ID, "flow", event.Completion.Flow, "variant", event.Completion.Variant, "seq", event.Completion.Seq)
		} else {
			slog.Error("completion processing failed", "error", err, "event_type", "completion", "note", "completion data was nil")
		}

	default:
		slog.Error("event processing failed", "error", err, "event_type", event.Type)
	}
}
