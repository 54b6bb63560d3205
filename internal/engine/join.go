package engine

import "github.com/Itshalffull/copf/internal/ir"

// joinClauses completes a multi-clause when-join: trigger is fixed as the
// witness for clauses[triggerIdx], and every other clause position is
// matched against candidates by backtracking search. Returns one
// environment per distinct satisfying assignment (deterministic order,
// following the candidate slice's order).
func joinClauses(clauses []ir.WhenClause, triggerIdx int, trigger *ir.Completion, candidates []ir.Completion) ([]ir.Record, error) {
	fixed := make(map[int]*ir.Completion, len(clauses))
	fixed[triggerIdx] = trigger

	var results []ir.Record
	used := make(map[string]bool, len(clauses))
	if trigger.ID != "" {
		used[trigger.ID] = true
	}

	env := ir.Record{}
	if err := joinBacktrack(clauses, 0, fixed, candidates, env, used, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// joinBacktrack recursively assigns a witness completion to each clause
// position (position idx upward), extending env with capture-or-assert
// bindings at each step, and appends a copy of env to results for every
// complete assignment found.
func joinBacktrack(
	clauses []ir.WhenClause,
	idx int,
	fixed map[int]*ir.Completion,
	candidates []ir.Completion,
	env ir.Record,
	used map[string]bool,
	results *[]ir.Record,
) error {
	if idx == len(clauses) {
		*results = append(*results, env)
		return nil
	}

	if witness, ok := fixed[idx]; ok {
		nextEnv, matched, err := extractClauseBindings(clauses[idx], witness, env)
		if err != nil {
			return err
		}
		if !matched {
			return nil
		}
		return joinBacktrack(clauses, idx+1, fixed, candidates, nextEnv, used, results)
	}

	for i := range candidates {
		cand := &candidates[i]
		if used[cand.ID] {
			continue
		}
		if !matchClauseShape(clauses[idx], cand) {
			continue
		}

		nextEnv, matched, err := extractClauseBindings(clauses[idx], cand, env)
		if err != nil {
			return err
		}
		if !matched {
			continue
		}

		used[cand.ID] = true
		if err := joinBacktrack(clauses, idx+1, fixed, candidates, nextEnv, used, results); err != nil {
			used[cand.ID] = false
			return err
		}
		used[cand.ID] = false
	}

	return nil
}
