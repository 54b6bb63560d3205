package store

import (
	"context"
	"fmt"

	"github.com/Itshalffull/copf/internal/ir"
)

// WriteInvocation inserts an invocation record into the store.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
// Other constraint violations (e.g., NOT NULL) will still return errors.
//
// The invocation's Input is serialized to canonical JSON per RFC 8785 for
// deterministic replay.
func (s *Store) WriteInvocation(ctx context.Context, inv ir.Invocation) error {
	inputJSON, err := marshalRecord(inv.Input)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invocations
		(id, flow, concept, action, input, sync, parent, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		inv.ID,
		inv.Flow,
		inv.Concept,
		inv.Action,
		inputJSON,
		nullIfEmpty(inv.Sync),
		nullIfEmpty(inv.Parent),
		inv.Timestamp,
		inv.Seq,
	)
	if err != nil {
		return fmt.Errorf("write invocation: %w", err)
	}

	return nil
}

// WriteCompletion inserts a completion record into the store.
// Uses ON CONFLICT DO NOTHING for idempotency - duplicate writes are silently ignored.
//
// The completion's Input and Output are serialized to canonical JSON per
// RFC 8785 for deterministic replay.
func (s *Store) WriteCompletion(ctx context.Context, comp ir.Completion) error {
	inputJSON, err := marshalRecord(comp.Input)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}

	outputJSON, err := marshalRecord(comp.Output)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO completions
		(id, invocation_id, flow, concept, action, input, variant, output, parent, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		comp.ID,
		comp.InvocationID,
		comp.Flow,
		comp.Concept,
		comp.Action,
		inputJSON,
		comp.Variant,
		outputJSON,
		nullIfEmpty(comp.Parent),
		comp.Timestamp,
		comp.Seq,
	)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}

	return nil
}

// WriteSyncFiring inserts a sync firing record into the store.
// Returns the ID and whether a new record was inserted.
//
// Uses ON CONFLICT(completion_id, sync_id, binding_hash) DO NOTHING for
// idempotency (binding-level idempotency per sync rule). If the firing
// already exists, returns the existing ID and inserted=false.
func (s *Store) WriteSyncFiring(ctx context.Context, firing ir.SyncFiring) (id int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write sync firing: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sync_firings
		(completion_id, sync_id, binding_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(completion_id, sync_id, binding_hash) DO NOTHING
	`,
		firing.CompletionID,
		firing.SyncID,
		firing.BindingHash,
		firing.Seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write sync firing: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write sync firing: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write sync firing: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM sync_firings
			WHERE completion_id = ? AND sync_id = ? AND binding_hash = ?
		`, firing.CompletionID, firing.SyncID, firing.BindingHash).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("write sync firing: select existing: %w", err)
		}
		inserted = false
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write sync firing: commit: %w", err)
	}

	return id, inserted, nil
}

// HasFiring checks if a sync firing already exists for the given triple.
// Used for idempotency checks before emitting a sync's then-invocations.
func (s *Store) HasFiring(ctx context.Context, completionID, syncID, bindingHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_firings
		WHERE completion_id = ? AND sync_id = ? AND binding_hash = ?
	`, completionID, syncID, bindingHash).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check firing: %w", err)
	}
	return count > 0, nil
}

// WriteProvenanceEdge inserts a provenance edge linking a sync firing to its generated invocation.
// Uses ON CONFLICT(sync_firing_id) DO NOTHING - each firing produces exactly one invocation.
func (s *Store) WriteProvenanceEdge(ctx context.Context, syncFiringID int64, invocationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provenance_edges
		(sync_firing_id, invocation_id)
		VALUES (?, ?)
		ON CONFLICT(sync_firing_id) DO NOTHING
	`,
		syncFiringID,
		invocationID,
	)
	if err != nil {
		return fmt.Errorf("write provenance edge: %w", err)
	}
	return nil
}

// WriteSyncFiringAtomic atomically writes a sync firing, invocation, and
// provenance edge in a single transaction, so a crash between the firing
// claim and the resulting invocation never leaves a dangling firing.
//
// If inserted=false, the invocation and provenance edge are NOT written
// (the sync has already fired for this completion/binding). This replaces
// the non-atomic sequence HasFiring -> WriteInvocation -> WriteSyncFiring
// -> WriteProvenanceEdge, which has a crash window between the firing
// claim and the invocation write.
func (s *Store) WriteSyncFiringAtomic(
	ctx context.Context,
	firing ir.SyncFiring,
	inv ir.Invocation,
) (firingID int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sync_firings
		(completion_id, sync_id, binding_hash, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(completion_id, sync_id, binding_hash) DO NOTHING
	`,
		firing.CompletionID,
		firing.SyncID,
		firing.BindingHash,
		firing.Seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: insert firing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: rows affected: %w", err)
	}

	if rowsAffected == 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM sync_firings
			WHERE completion_id = ? AND sync_id = ? AND binding_hash = ?
		`, firing.CompletionID, firing.SyncID, firing.BindingHash).Scan(&firingID)
		if err != nil {
			return 0, false, fmt.Errorf("atomic sync firing: select existing: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return 0, false, fmt.Errorf("atomic sync firing: commit (existing): %w", err)
		}
		return firingID, false, nil
	}

	firingID, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: last insert id: %w", err)
	}

	inputJSON, err := marshalRecord(inv.Input)
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: marshal input: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invocations
		(id, flow, concept, action, input, sync, parent, timestamp, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		inv.ID,
		inv.Flow,
		inv.Concept,
		inv.Action,
		inputJSON,
		nullIfEmpty(inv.Sync),
		nullIfEmpty(inv.Parent),
		inv.Timestamp,
		inv.Seq,
	)
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: write invocation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO provenance_edges
		(sync_firing_id, invocation_id)
		VALUES (?, ?)
		ON CONFLICT(sync_firing_id) DO NOTHING
	`,
		firingID,
		inv.ID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: write provenance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("atomic sync firing: commit: %w", err)
	}

	return firingID, true, nil
}

// nullIfEmpty maps an empty string to nil so the column stores SQL NULL
// rather than an empty-string sentinel for optional fields.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
