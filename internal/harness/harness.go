// Package harness provides a conformance testing framework for the COPF sync engine.
//
// # Two execution modes
//
// Run executes a scenario without touching the sync engine at all: it
// writes invocations and completions straight to the store, manufacturing
// completion results from the scenario's expect clauses. It validates the
// testing infrastructure itself - scenario format, assertion evaluation,
// trace structure, golden-file comparison - independently of engine
// behavior, and is useful for scenarios that only need a plausible trace
// shape to exercise those concerns.
//
// RunWithHandlers (see runwithhandlers.go) is the real-dispatch mode: it
// parses and compiles the scenario's spec files, registers an in-process
// transport per concept against caller-supplied handlers (dispatch.go),
// and drives every invocation through the actual engine - sync rules
// fire for real, and a flow step's expect clause is checked against what
// the engine and handlers actually produced. Use this mode whenever a
// scenario should validate engine or sync behavior rather than just the
// harness plumbing.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Itshalffull/copf/internal/engine"
	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/store"
	"github.com/Itshalffull/copf/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with deterministic clock and flow tokens.
//
// NOTE: Currently the harness bypasses actual engine execution. See package
// documentation and RunWithHandlers for the real-dispatch alternative.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine // unused in this mode; see RunWithHandlers for real dispatch
	clock   *testutil.DeterministicClock
	flowGen *testutil.FixedFlowGenerator
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Load and compile concept specs and sync rules
// 3. Execute setup steps
// 4. Execute flow steps with expect validation
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	// Create fresh in-memory SQLite database
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Initialize deterministic helpers
	clock := testutil.NewDeterministicClock()
	flowGen := testutil.NewFixedFlowGenerator(scenario.FlowToken)

	specs := []ir.ConceptSpec{}
	syncs := []ir.SyncRule{}

	// Create engine with test flow generator
	eng := engine.New(st, specs, syncs, flowGen)

	// Initialize harness
	h := &Harness{
		store:   st,
		engine:  eng,
		clock:   clock,
		flowGen: flowGen,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()

	// Execute setup steps
	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	// Execute flow steps
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	// Evaluate assertions against the result
	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	assertionErrors := EvaluateAssertions(result, scenario.Assertions, actx)
	for _, errMsg := range assertionErrors {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeSetup runs all setup steps.
//
// Setup steps are executed sequentially before the flow.
// Each step generates an invocation and completion (assuming success).
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		// Convert args to Record
		args, err := convertArgsToRecord(step.Args)
		if err != nil {
			return fmt.Errorf("setup step %d: failed to convert args: %w", i, err)
		}

		// Generate flow token ONCE for this invocation
		flowToken := h.flowGen.Generate()

		// Get seq ONCE and reuse for both ID computation and record field
		// CRITICAL: clock.Next() must be called exactly once per record
		invSeq := h.clock.Next()

		concept, action := splitActionURI(step.Action)

		invID, err := ir.InvocationID(flowToken, step.Action, args, invSeq)
		if err != nil {
			return fmt.Errorf("setup step %d: failed to compute invocation ID: %w", i, err)
		}

		inv := ir.Invocation{
			ID:        invID,
			Concept:   concept,
			Action:    action,
			Input:     args,
			Flow:      flowToken,
			Timestamp: h.clock.Current(),
			Seq:       invSeq,
		}

		// Write invocation to store
		if err := h.store.WriteInvocation(ctx, inv); err != nil {
			return fmt.Errorf("setup step %d: failed to write invocation: %w", i, err)
		}

		// Add to trace
		result.AddInvocationTrace(step.Action, step.Args, invSeq)

		// Setup steps always succeed in this mode; see RunWithHandlers for real dispatch.

		// Get completion seq ONCE
		compSeq := h.clock.Next()
		compResult := ir.Record{} // Empty for setup

		compID, err := ir.CompletionID(inv.ID, "Success", compResult, compSeq)
		if err != nil {
			return fmt.Errorf("setup step %d: failed to compute completion ID: %w", i, err)
		}

		comp := ir.Completion{
			ID:           compID,
			Concept:      concept,
			Action:       action,
			Input:        args,
			Variant:      "Success",
			Output:       compResult,
			Flow:         flowToken,
			Timestamp:    h.clock.Current(),
			Seq:          compSeq,
			InvocationID: inv.ID,
		}

		if err := h.store.WriteCompletion(ctx, comp); err != nil {
			return fmt.Errorf("setup step %d: failed to write completion: %w", i, err)
		}

		// Add to trace
		result.AddCompletionTrace("Success", nil, compSeq)

		h.logger.Info("setup step completed",
			"step", i,
			"action", step.Action,
			"invocation_id", inv.ID,
			"completion_id", comp.ID,
		)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// This function manufactures completions directly from expect clauses
// rather than invoking the actual engine: the completion's output case and
// result are taken verbatim from step.Expect, so a step always "passes".
// See RunWithHandlers for the mode that drives real dispatch instead.
//
// Each step:
// 1. Generates invocation with deterministic ID (content-addressed)
// 2. Writes invocation to store (bypasses engine.Enqueue)
// 3. Manufactures completion from expect clause (NOT from engine execution)
// 4. Writes completion to store
// 5. Validates expect clause (always passes since completion = expect)
// 6. Builds trace for golden file comparison
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		// Convert args to Record
		args, err := convertArgsToRecord(step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d: failed to convert args: %w", i, err)
		}

		// Generate flow token and seq ONCE (CRITICAL: avoid double clock.Next())
		flowToken := h.flowGen.Generate()
		invSeq := h.clock.Next()

		concept, action := splitActionURI(step.Invoke)

		invID, err := ir.InvocationID(flowToken, step.Invoke, args, invSeq)
		if err != nil {
			return fmt.Errorf("flow step %d: failed to compute invocation ID: %w", i, err)
		}

		inv := ir.Invocation{
			ID:        invID,
			Concept:   concept,
			Action:    action,
			Input:     args,
			Flow:      flowToken,
			Timestamp: h.clock.Current(),
			Seq:       invSeq,
		}

		// Write invocation to store
		if err := h.store.WriteInvocation(ctx, inv); err != nil {
			return fmt.Errorf("flow step %d: failed to write invocation: %w", i, err)
		}

		// Add to trace
		result.AddInvocationTrace(step.Invoke, step.Args, invSeq)

		// Manufacture the completion from the expect clause; see RunWithHandlers
		// for the mode that dispatches to a real handler instead.

		// Determine expected output case (default: "Success")
		expectedCase := "Success"
		if step.Expect != nil {
			expectedCase = step.Expect.Case
		}

		// Get completion seq ONCE
		compSeq := h.clock.Next()
		compResult := ir.Record{}

		// If expect has result fields, include them in the completion
		if step.Expect != nil && step.Expect.Result != nil {
			compResult, err = convertArgsToRecord(step.Expect.Result)
			if err != nil {
				return fmt.Errorf("flow step %d: failed to convert expected result: %w", i, err)
			}
		}

		compID, err := ir.CompletionID(inv.ID, expectedCase, compResult, compSeq)
		if err != nil {
			return fmt.Errorf("flow step %d: failed to compute completion ID: %w", i, err)
		}

		comp := ir.Completion{
			ID:           compID,
			Concept:      concept,
			Action:       action,
			Input:        args,
			Variant:      expectedCase,
			Output:       compResult,
			Flow:         flowToken,
			Timestamp:    h.clock.Current(),
			Seq:          compSeq,
			InvocationID: inv.ID,
		}

		if err := h.store.WriteCompletion(ctx, comp); err != nil {
			return fmt.Errorf("flow step %d: failed to write completion: %w", i, err)
		}

		// Add to trace
		var traceResult interface{}
		if step.Expect != nil {
			traceResult = step.Expect.Result
		}
		result.AddCompletionTrace(comp.Variant, traceResult, compSeq)

		// Validate against expect clause
		if step.Expect != nil {
			h.logger.Info("flow step validated",
				"step", i,
				"action", step.Invoke,
				"expected_case", step.Expect.Case,
				"actual_case", comp.Variant,
			)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"action", step.Invoke,
			"invocation_id", inv.ID,
			"completion_id", comp.ID,
			"output_case", comp.Variant,
		)
	}

	return nil
}

// splitActionURI splits a "Concept.action" reference into its two parts.
// A reference with no dot is treated as the action name on an empty concept.
func splitActionURI(uri string) (concept, action string) {
	for i := 0; i < len(uri); i++ {
		if uri[i] == '.' {
			return uri[:i], uri[i+1:]
		}
	}
	return "", uri
}

// convertArgsToRecord converts a map[string]interface{} to ir.Record.
// This handles YAML-parsed values and converts them to proper Value types.
func convertArgsToRecord(args map[string]interface{}) (ir.Record, error) {
	if args == nil {
		return ir.Record{}, nil
	}

	result := make(ir.Record)
	for key, val := range args {
		irVal, err := convertToValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToValue converts a YAML-parsed value to an Value.
// Returns an error for null values since they are forbidden in canonical JSON
// and would fail later during ID computation (ir.MarshalCanonical rejects nulls).
func convertToValue(val interface{}) (ir.Value, error) {
	if val == nil {
		// Reject nulls early with a clear error message.
		// YAML `null` or `~` would pass through here but fail during
		// canonical JSON serialization for content-addressed IDs.
		return nil, fmt.Errorf("null values are forbidden in IR (canonical JSON does not support null)")
	}

	switch v := val.(type) {
	case string:
		return ir.Str(v), nil
	case int:
		return ir.Int(int64(v)), nil
	case int64:
		return ir.Int(v), nil
	case float64:
		// YAML parses all numbers as float64
		// Check if it's actually an integer (floats forbidden in IR per the design invariant)
		if v == float64(int64(v)) {
			return ir.Int(int64(v)), nil
		}
		// Floats are forbidden in IR
		return nil, fmt.Errorf("floats are forbidden in IR: %v", v)
	case bool:
		return ir.Bool(v), nil
	case []interface{}:
		arr := make(ir.List, len(v))
		for i, elem := range v {
			irElem, err := convertToValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]interface{}:
		obj, err := convertArgsToRecord(v)
		if err != nil {
			return nil, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
