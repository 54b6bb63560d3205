package harness

import (
	"context"
	"fmt"

	"github.com/Itshalffull/copf/internal/engine"
	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/store"
	"github.com/Itshalffull/copf/internal/testutil"
)

// RunWithHandlers executes a scenario the way Run does - fresh in-memory
// store, deterministic clock and flow token, setup then flow then
// assertions - but drives the actual sync engine instead of manufacturing
// completions from the expect clauses: scenario.Specs are parsed and
// compiled, one in-process transport is registered per concept against the
// caller-supplied handlers, and every invocation is enqueued to the engine
// and drained before its completion is read back from the store. A flow
// step's expect clause is then compared against what the engine and
// handlers actually produced, rather than echoed verbatim into the trace.
//
// This is the real-dispatch counterpart to Run's validation-only mode; see
// the package doc comment for why both exist.
func RunWithHandlers(scenario *Scenario, handlers ConceptHandlers) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	specs, err := loadSpecFiles(scenario.Specs)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario specs: %w", err)
	}

	clock := testutil.NewDeterministicClock()
	flowGen := testutil.NewFixedFlowGenerator(scenario.FlowToken)

	conceptReg, _ := buildRegistry(specs.Concepts, handlers)
	dispatcher := &registryDispatcher{reg: conceptReg}

	eng := engine.New(st, specs.Concepts, specs.Syncs, flowGen,
		engine.WithWallClock(clock.Next),
		engine.WithDispatcher(dispatcher),
	)

	h := &dispatchHarness{
		store:   st,
		engine:  eng,
		clock:   clock,
		flowGen: flowGen,
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Setup {
		if err := h.runSetupStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
	}

	for i, step := range scenario.Flow {
		if err := h.runFlowStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// dispatchHarness holds the per-run state for RunWithHandlers, mirroring
// Harness but driving real engine dispatch instead of manufacturing
// completions.
type dispatchHarness struct {
	store   *store.Store
	engine  *engine.Engine
	clock   *testutil.DeterministicClock
	flowGen *testutil.FixedFlowGenerator
}

func (h *dispatchHarness) runSetupStep(ctx context.Context, step ActionStep, result *Result) error {
	args, err := convertArgsToRecord(step.Args)
	if err != nil {
		return fmt.Errorf("failed to convert args: %w", err)
	}
	comp, seq, err := h.invokeAndDrain(ctx, step.Action, args)
	if err != nil {
		return err
	}

	result.AddInvocationTrace(step.Action, step.Args, seq)
	result.AddCompletionTrace(comp.Variant, recordToInterface(comp.Output), comp.Seq)

	if comp.Variant == "error" || comp.Variant == "handler_error" {
		return fmt.Errorf("setup action %s failed: %v", step.Action, comp.Output)
	}
	return nil
}

func (h *dispatchHarness) runFlowStep(ctx context.Context, step FlowStep, result *Result) error {
	args, err := convertArgsToRecord(step.Args)
	if err != nil {
		return fmt.Errorf("failed to convert args: %w", err)
	}
	comp, seq, err := h.invokeAndDrain(ctx, step.Invoke, args)
	if err != nil {
		return err
	}

	result.AddInvocationTrace(step.Invoke, step.Args, seq)
	result.AddCompletionTrace(comp.Variant, recordToInterface(comp.Output), comp.Seq)

	if step.Expect != nil && comp.Variant != step.Expect.Case {
		result.AddError(fmt.Sprintf("flow step %s: expected output case %q, got %q", step.Invoke, step.Expect.Case, comp.Variant))
	}
	return nil
}

// invokeAndDrain builds an invocation for actionURI, enqueues it to the
// engine, drains the queue so the registered dispatcher runs it (and any
// syncs it triggers fire), and reads back the completion the dispatcher
// produced for this exact invocation.
func (h *dispatchHarness) invokeAndDrain(ctx context.Context, actionURI string, args ir.Record) (ir.Completion, int64, error) {
	flowToken := h.flowGen.Generate()
	seq := h.clock.Next()
	concept, action := splitActionURI(actionURI)

	invID, err := ir.InvocationID(flowToken, actionURI, args, seq)
	if err != nil {
		return ir.Completion{}, 0, fmt.Errorf("compute invocation ID: %w", err)
	}

	inv := ir.Invocation{
		ID:        invID,
		Concept:   concept,
		Action:    action,
		Input:     args,
		Flow:      flowToken,
		Timestamp: h.clock.Current(),
		Seq:       seq,
	}

	h.engine.Enqueue(engine.Event{Type: engine.EventTypeInvocation, Invocation: &inv})
	if err := h.engine.Drain(ctx); err != nil {
		return ir.Completion{}, 0, fmt.Errorf("drain engine: %w", err)
	}

	_, completions, err := h.store.ReadFlow(ctx, flowToken)
	if err != nil {
		return ir.Completion{}, 0, fmt.Errorf("read flow %s: %w", flowToken, err)
	}
	for _, comp := range completions {
		if comp.InvocationID == inv.ID {
			return comp, seq, nil
		}
	}
	return ir.Completion{}, 0, fmt.Errorf("no completion recorded for invocation %s (%s)", inv.ID, actionURI)
}
