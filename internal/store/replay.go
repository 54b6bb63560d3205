package store

import (
	"context"
	"fmt"

	"github.com/Itshalffull/copf/internal/ir"
)

// FlowState represents the state of a flow for recovery purposes.
type FlowState struct {
	Flow            string
	Invocations     []ir.Invocation
	Completions     []ir.Completion
	SyncFirings     []ir.SyncFiring
	LastSeq         int64
	IsComplete      bool   // True if all invocations have completions AND all sync firings have triggered invocations
	PendingCount    int    // Invocations without completions
	OrphanedFirings int    // Sync firings without provenance edges (crash recovery indicator)
	TerminalVariant string // Empty, or the variant of the last completion
}

// GetFlowState retrieves the complete state of a flow for recovery analysis.
// Returns all invocations, completions, and sync firings with analysis of completeness.
func (s *Store) GetFlowState(ctx context.Context, flow string) (FlowState, error) {
	state := FlowState{
		Flow: flow,
	}

	invocations, err := s.readFlowInvocations(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Invocations = invocations

	completions, err := s.readFlowCompletions(ctx, flow)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.Completions = completions

	completedInvocations := make(map[string]bool)
	for _, comp := range completions {
		completedInvocations[comp.InvocationID] = true
		if comp.Seq > state.LastSeq {
			state.LastSeq = comp.Seq
		}
	}

	for _, inv := range invocations {
		if inv.Seq > state.LastSeq {
			state.LastSeq = inv.Seq
		}
		if !completedInvocations[inv.ID] {
			state.PendingCount++
		}
	}

	for _, comp := range completions {
		firings, err := s.ReadSyncFiringsForCompletion(ctx, comp.ID)
		if err != nil {
			return state, fmt.Errorf("get flow state: %w", err)
		}
		state.SyncFirings = append(state.SyncFirings, firings...)
	}

	// Count orphaned firings in a single batch query to avoid N+1.
	completionIDs := make([]string, len(completions))
	for i, comp := range completions {
		completionIDs[i] = comp.ID
	}
	orphanCount, err := s.countOrphanedFiringsForCompletions(ctx, completionIDs)
	if err != nil {
		return state, fmt.Errorf("get flow state: %w", err)
	}
	state.OrphanedFirings = orphanCount

	state.IsComplete = state.PendingCount == 0 && state.OrphanedFirings == 0 && len(invocations) > 0

	if len(completions) > 0 {
		state.TerminalVariant = completions[len(completions)-1].Variant
	}

	return state, nil
}

// FindIncompleteFlows returns all flows that need recovery attention.
// A flow is incomplete if some invocations don't have corresponding
// completions, or some sync firings are orphaned (no provenance edge).
func (s *Store) FindIncompleteFlows(ctx context.Context) ([]FlowState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT flow FROM (
			-- Flows with pending invocations (no completion)
			SELECT i.flow
			FROM invocations i
			LEFT JOIN completions c ON i.id = c.invocation_id
			WHERE c.id IS NULL

			UNION

			-- Flows with orphaned sync firings (no provenance edge)
			SELECT c.flow
			FROM sync_firings sf
			LEFT JOIN provenance_edges pe ON sf.id = pe.sync_firing_id
			JOIN completions c ON sf.completion_id = c.id
			WHERE pe.id IS NULL
		)
		ORDER BY flow
	`)
	if err != nil {
		return nil, fmt.Errorf("find incomplete flows: %w", err)
	}
	defer rows.Close()

	var flows []string
	for rows.Next() {
		var flow string
		if err := rows.Scan(&flow); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}

	var states []FlowState
	for _, flow := range flows {
		state, err := s.GetFlowState(ctx, flow)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	return states, nil
}

// GetPendingInvocations returns invocations that don't have completions.
// Used for recovery to identify which actions need to be re-executed.
// Results ordered by seq ASC, id ASC.
func (s *Store) GetPendingInvocations(ctx context.Context, flow string) ([]ir.Invocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.flow, i.concept, i.action, i.input, i.sync, i.parent, i.timestamp, i.seq
		FROM invocations i
		LEFT JOIN completions c ON i.id = c.invocation_id
		WHERE i.flow = ? AND c.id IS NULL
		ORDER BY i.seq ASC, i.id COLLATE BINARY ASC
	`, flow)
	if err != nil {
		return nil, fmt.Errorf("get pending invocations: %w", err)
	}
	defer rows.Close()

	var invocations []ir.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending invocations: %w", err)
	}

	if invocations == nil {
		invocations = []ir.Invocation{}
	}

	return invocations, nil
}

// ReplayFlow returns all events for a flow in replay order: a merged,
// seq-ordered stream of invocations and completions. Used to verify that
// replaying a flow's log reproduces the same sequence of events.
func (s *Store) ReplayFlow(ctx context.Context, flow string) ([]FlowEvent, error) {
	state, err := s.GetFlowState(ctx, flow)
	if err != nil {
		return nil, err
	}

	var events []FlowEvent

	for i := range state.Invocations {
		inv := state.Invocations[i]
		events = append(events, FlowEvent{
			Type:       EventInvocation,
			Seq:        inv.Seq,
			ID:         inv.ID,
			Invocation: &inv,
		})
	}

	for i := range state.Completions {
		comp := state.Completions[i]
		events = append(events, FlowEvent{
			Type:       EventCompletion,
			Seq:        comp.Seq,
			ID:         comp.ID,
			Completion: &comp,
		})
	}

	sortFlowEvents(events)

	return events, nil
}

// FlowEvent represents a single event in a flow (invocation or completion).
type FlowEvent struct {
	Type       FlowEventType
	Seq        int64
	ID         string
	Invocation *ir.Invocation
	Completion *ir.Completion
}

// FlowEventType distinguishes between invocations and completions.
type FlowEventType int

const (
	EventInvocation FlowEventType = iota
	EventCompletion
)

// String returns the event type as a string.
func (t FlowEventType) String() string {
	switch t {
	case EventInvocation:
		return "invocation"
	case EventCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// sortFlowEvents sorts events by seq, with invocations before completions for equal seq.
func sortFlowEvents(events []FlowEvent) {
	for i := 1; i < len(events); i++ {
		j := i
		for j > 0 && eventLess(events[j], events[j-1]) {
			events[j], events[j-1] = events[j-1], events[j]
			j--
		}
	}
}

// eventLess orders by seq first, then by type (invocations before completions), then by ID.
func eventLess(a, b FlowEvent) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.ID < b.ID
}

// GetLastSeq returns the highest seq number used in the store.
// Used for recovery to resume the logical clock from the correct position.
func (s *Store) GetLastSeq(ctx context.Context) (int64, error) {
	var maxSeq int64

	var invSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM invocations
	`).Scan(&invSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from invocations: %w", err)
	}
	maxSeq = invSeq

	var compSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM completions
	`).Scan(&compSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from completions: %w", err)
	}
	if compSeq > maxSeq {
		maxSeq = compSeq
	}

	var firingSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM sync_firings
	`).Scan(&firingSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from sync_firings: %w", err)
	}
	if firingSeq > maxSeq {
		maxSeq = firingSeq
	}

	return maxSeq, nil
}

// ListFlows returns all distinct flow tokens in the database, ordered alphabetically.
// Used by replay and analysis commands to enumerate all flows.
func (s *Store) ListFlows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT flow FROM invocations
		ORDER BY flow
	`)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []string
	for rows.Next() {
		var flow string
		if err := rows.Scan(&flow); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flows: %w", err)
	}

	if flows == nil {
		flows = []string{}
	}

	return flows, nil
}

// GetLastSeqForFlow returns the highest seq number used in a specific flow.
// Used for flow-scoped recovery.
func (s *Store) GetLastSeqForFlow(ctx context.Context, flow string) (int64, error) {
	var maxSeq int64

	var invSeq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM invocations WHERE flow = ?
	`, flow).Scan(&invSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from invocations: %w", err)
	}
	maxSeq = invSeq

	var compSeq int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM completions WHERE flow = ?
	`, flow).Scan(&compSeq)
	if err != nil {
		return 0, fmt.Errorf("get last seq from completions: %w", err)
	}
	if compSeq > maxSeq {
		maxSeq = compSeq
	}

	return maxSeq, nil
}
