package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itshalffull/copf/internal/ir"
)

// Flow token propagation: tokens are inherited from the triggering
// completion throughout a sync chain, never regenerated mid-flow.

func TestGenerateInvocation_FlowTokenInherited(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{
		Concept: "Inventory",
		Action:  "reserve",
		Args:    map[string]ir.BindingValue{"product_id": ir.BVariable{Name: "product"}},
	}
	env := ir.Record{"product": ir.Str("widget")}

	inv, err := e.generateInvocation(then, "sync-a", "flow-test-123", "parent-id", env)
	require.NoError(t, err)

	assert.Equal(t, "flow-test-123", inv.Flow, "flow token must be inherited from the triggering completion")
	assert.Equal(t, "Inventory", inv.Concept)
	assert.Equal(t, "reserve", inv.Action)
	assert.Equal(t, ir.Str("widget"), inv.Input["product_id"])
	assert.Equal(t, "sync-a", inv.Sync)
	assert.Equal(t, "parent-id", inv.Parent)
}

func TestGenerateInvocation_RejectsEmptyFlowToken(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{Concept: "Test", Action: "action", Args: map[string]ir.BindingValue{}}
	_, err := e.generateInvocation(then, "sync-a", "", "parent-id", ir.Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow token is required")
}

func TestGenerateInvocation_ArgResolution(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{
		Concept: "Order",
		Action:  "process",
		Args: map[string]ir.BindingValue{
			"order_id": ir.BVariable{Name: "order_id"},
			"product":  ir.BVariable{Name: "product_name"},
			"quantity": ir.BLiteral{Value: ir.Int(10)},
			"priority": ir.BLiteral{Value: ir.Str("high")},
		},
	}
	env := ir.Record{
		"order_id":     ir.Str("ord-123"),
		"product_name": ir.Str("widget"),
	}

	inv, err := e.generateInvocation(then, "sync-a", "flow-args-test", "parent-id", env)
	require.NoError(t, err)

	assert.Equal(t, ir.Str("ord-123"), inv.Input["order_id"])
	assert.Equal(t, ir.Str("widget"), inv.Input["product"])
	assert.Equal(t, ir.Int(10), inv.Input["quantity"])
	assert.Equal(t, ir.Str("high"), inv.Input["priority"])
}

func TestGenerateInvocation_MissingBindingErrors(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{
		Concept: "Test",
		Action:  "action",
		Args:    map[string]ir.BindingValue{"field": ir.BVariable{Name: "nonexistent"}},
	}

	_, err := e.generateInvocation(then, "sync-a", "flow-missing-binding", "parent-id", ir.Record{})
	require.Error(t, err)
}

func TestGenerateInvocation_ContentAddressedID(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{Concept: "Test", Action: "action", Args: map[string]ir.BindingValue{"key": ir.BLiteral{Value: ir.Str("value")}}}
	inv, err := e.generateInvocation(then, "sync-a", "flow-content-addr", "parent-id", ir.Record{})
	require.NoError(t, err)

	assert.Regexp(t, `^[0-9a-f]{64}$`, inv.ID, "invocation ID must be a SHA256 hex digest")
}

func TestGenerateInvocation_SequenceIncreases(t *testing.T) {
	e := newTestEngine(t)

	then := ir.ThenClause{Concept: "Test", Action: "action", Args: map[string]ir.BindingValue{}}

	inv1, err := e.generateInvocation(then, "sync-a", "flow-seq-test", "parent-id", ir.Record{})
	require.NoError(t, err)
	inv2, err := e.generateInvocation(then, "sync-a", "flow-seq-test", "parent-id", ir.Record{})
	require.NoError(t, err)

	assert.Greater(t, inv2.Seq, inv1.Seq)
}

// TestFlowTokenChain_TwoHops drives a completion through two sync hops and
// verifies the flow token set on the original completion survives
// unchanged across both invocations.
func TestFlowTokenChain_TwoHops(t *testing.T) {
	sync1 := ir.SyncRule{
		ID: "reserve-on-order",
		When: []ir.WhenClause{
			{Concept: "Order", Action: "create", Outputs: map[string]ir.BindingValue{"order_id": ir.BVariable{Name: "order_id"}}},
		},
		Then: []ir.ThenClause{
			{Concept: "Inventory", Action: "reserve", Args: map[string]ir.BindingValue{"order_id": ir.BVariable{Name: "order_id"}}},
		},
	}
	sync2 := ir.SyncRule{
		ID: "notify-on-reserve",
		When: []ir.WhenClause{
			{Concept: "Inventory", Action: "reserve", Outputs: map[string]ir.BindingValue{"order_id": ir.BVariable{Name: "order_id"}}},
		},
		Then: []ir.ThenClause{
			{Concept: "Notification", Action: "send", Args: map[string]ir.BindingValue{"order_id": ir.BVariable{Name: "order_id"}}},
		},
	}

	e := newTestEngine(t, sync1, sync2)
	ctx := context.Background()

	const flowToken = "flow-chain-xyz"

	orderComp := mustCompletion(t, flowToken, "Order", "create", "ok", ir.Record{}, ir.Record{"order_id": ir.Str("order-123")}, 1)
	require.NoError(t, e.processCompletion(ctx, &orderComp))

	require.Equal(t, 1, e.QueueLen())
	ev1, ok := e.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, flowToken, ev1.Invocation.Flow, "hop 1 invocation must inherit the original flow token")

	reserveComp := mustCompletion(t, flowToken, "Inventory", "reserve", "ok", ev1.Invocation.Input, ir.Record{"order_id": ir.Str("order-123")}, 3)
	require.NoError(t, e.processCompletion(ctx, &reserveComp))

	require.Equal(t, 1, e.QueueLen())
	ev2, ok := e.queue.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, flowToken, ev2.Invocation.Flow, "hop 2 invocation must still carry the same flow token")
	assert.Equal(t, "Notification", ev2.Invocation.Concept)
}
