package store

import (
	"path/filepath"
	"testing"

	"github.com/Itshalffull/copf/internal/ir"
)

// createTestStore creates a new in-memory store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestInvocation creates a test invocation with minimal required fields.
// actionURI is split into "Concept.action" form.
func createTestInvocation(id, flowToken, actionURI string, seq int64) ir.Invocation {
	concept, action := splitActionURI(actionURI)
	return ir.Invocation{
		ID:      id,
		Flow:    flowToken,
		Concept: concept,
		Action:  action,
		Input:   ir.Record{},
		Seq:     seq,
	}
}

// createTestCompletion creates a test completion with minimal required fields.
func createTestCompletion(id, invocationID, variant string, seq int64) ir.Completion {
	return ir.Completion{
		ID:           id,
		InvocationID: invocationID,
		Variant:      variant,
		Output:       ir.Record{},
		Seq:          seq,
	}
}

// splitActionURI splits a "Concept.action" reference into its parts. If
// actionURI carries no dot, the whole string is used as the action name
// under an empty concept - good enough for tests that only care about
// round-tripping an opaque action identifier.
func splitActionURI(actionURI string) (concept, action string) {
	for i := 0; i < len(actionURI); i++ {
		if actionURI[i] == '.' {
			return actionURI[:i], actionURI[i+1:]
		}
	}
	return "", actionURI
}
