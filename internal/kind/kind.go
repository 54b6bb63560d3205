// Package kind implements the kind/transform graph (spec §4.G): a directed
// graph of named kinds connected by relations, each optionally carrying the
// name of the transform that converts one kind into another. It answers
// routing questions for the "copf generate"/"copf impact" surface: what is
// the shortest chain of transforms from a source kind to a target kind.
//
// The graph's adjacency-list-plus-traversal shape follows the same idiom as
// internal/compiler's dependency-graph cycle analysis, repurposed here from
// strongly-connected-component detection to shortest-path routing.
package kind

import (
	"sort"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/storage"
)

const (
	kindsCollection = "kinds"
	edgesCollection = "edges"
)

// Kind is a named category of artifact in the generation pipeline
// (e.g. "ConceptDSL", "TypeScriptFiles").
type Kind struct {
	Name     string
	Category string
}

// Edge is a directed, optionally transform-labeled connection between two
// kinds.
type Edge struct {
	From      string
	To        string
	Relation  string
	Transform string // empty if the relation carries no transform
}

// Graph is a full snapshot of the kind system: every kind and edge
// currently defined.
type Graph struct {
	Kinds []Kind
	Edges []Edge
}

// Step is one hop of a routed path: the kind arrived at, and the relation
// and transform that produced it.
type Step struct {
	Kind      string
	Relation  string
	Transform string
}

// Path is a sequence of steps from a route's source to its target. An
// empty, non-nil Path denotes a route from a kind to itself.
type Path []Step

// System is the kind/transform graph, backed by a concept-owned storage
// handle per spec §4.G ("stores kinds and edges in concept-owned storage").
type System struct {
	store storage.ConceptStorage
}

// New returns a kind system backed by store.
func New(store storage.ConceptStorage) *System {
	return &System{store: store}
}

// Define idempotently registers a kind. Re-defining an existing kind name
// with a different category is a no-op: the first definition wins.
func (s *System) Define(name, category string) {
	if _, ok := s.store.Get(kindsCollection, name); ok {
		return
	}
	s.store.Put(kindsCollection, name, ir.Record{
		"name":     ir.Str(name),
		"category": ir.Str(category),
	})
}

// edgeKey builds the storage key for an edge, a composite of every field
// that distinguishes two otherwise-identical edges.
func edgeKey(from, to, relation, transform string) string {
	return from + "\x00" + to + "\x00" + relation + "\x00" + transform
}

// Connect idempotently registers a directed edge between two kinds.
func (s *System) Connect(from, to, relation, transform string) {
	key := edgeKey(from, to, relation, transform)
	if _, ok := s.store.Get(edgesCollection, key); ok {
		return
	}
	s.store.Put(edgesCollection, key, ir.Record{
		"from":      ir.Str(from),
		"to":        ir.Str(to),
		"relation":  ir.Str(relation),
		"transform": ir.Str(transform),
	})
}

// Graph returns every kind and edge currently defined, sorted for
// deterministic rendering.
func (s *System) Graph() Graph {
	kindRecs := s.store.Find(kindsCollection, storage.Filter{})
	edgeRecs := s.store.Find(edgesCollection, storage.Filter{})

	kinds := make([]Kind, 0, len(kindRecs))
	for _, rec := range kindRecs {
		kinds = append(kinds, Kind{
			Name:     string(rec["name"].(ir.Str)),
			Category: string(rec["category"].(ir.Str)),
		})
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })

	edges := make([]Edge, 0, len(edgeRecs))
	for _, rec := range edgeRecs {
		edges = append(edges, edgeFromRecord(rec))
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Transform < edges[j].Transform
	})

	return Graph{Kinds: kinds, Edges: edges}
}

func edgeFromRecord(rec ir.Record) Edge {
	transform := ""
	if t, ok := rec["transform"].(ir.Str); ok {
		transform = string(t)
	}
	return Edge{
		From:      string(rec["from"].(ir.Str)),
		To:        string(rec["to"].(ir.Str)),
		Relation:  string(rec["relation"].(ir.Str)),
		Transform: transform,
	}
}

// adjacency builds an adjacency list keyed by source kind, edges sorted by
// (transform, to) so downstream traversal can break ties deterministically.
func (s *System) adjacency() map[string][]Edge {
	edgeRecs := s.store.Find(edgesCollection, storage.Filter{})
	adj := make(map[string][]Edge)
	for _, rec := range edgeRecs {
		e := edgeFromRecord(rec)
		adj[e.From] = append(adj[e.From], e)
	}
	for from := range adj {
		list := adj[from]
		sort.Slice(list, func(i, j int) bool {
			if list[i].Transform != list[j].Transform {
				return list[i].Transform < list[j].Transform
			}
			return list[i].To < list[j].To
		})
	}
	return adj
}

// Unreachable is returned by Route when no directed path connects from to
// to. It is distinguished from "empty path" (from == to).
type Unreachable struct {
	From, To string
}

func (e *Unreachable) Error() string {
	return "no route from " + e.From + " to " + e.To
}

// Route finds the shortest directed path from "from" to "to" by edge
// count; ties are broken lexicographically by the sequence of transform
// names along the path. Route(k, k) returns an empty, non-nil path.
func (s *System) Route(from, to string) (Path, error) {
	if from == to {
		return Path{}, nil
	}

	adj := s.adjacency()

	// Reverse-BFS from the target gives, for every reachable node, its
	// distance (in hops) to the target. Using this as a guide, a forward
	// walk from the source that always steps to a neighbor one hop closer
	// to the target - breaking ties by the smallest transform name - is a
	// shortest path, and choosing the locally-smallest transform at each
	// step yields the lexicographically smallest such path overall.
	distToTarget := reverseBFS(adj, to)

	if _, ok := distToTarget[from]; !ok {
		return nil, &Unreachable{From: from, To: to}
	}

	var path Path
	current := from
	for current != to {
		currentDist := distToTarget[current]
		var best *Edge
		for i := range adj[current] {
			e := adj[current][i]
			d, ok := distToTarget[e.To]
			if !ok || d != currentDist-1 {
				continue
			}
			if best == nil || betterTieBreak(e, *best) {
				e := e
				best = &e
			}
		}
		if best == nil {
			// Should not happen given distToTarget was reachable, but guards
			// against an inconsistent graph snapshot read mid-mutation.
			return nil, &Unreachable{From: from, To: to}
		}
		path = append(path, Step{Kind: best.To, Relation: best.Relation, Transform: best.Transform})
		current = best.To
	}

	return path, nil
}

func betterTieBreak(a, b Edge) bool {
	if a.Transform != b.Transform {
		return a.Transform < b.Transform
	}
	return a.To < b.To
}

// reverseBFS returns, for every node reachable backward from target
// (i.e. every node with a forward path to target), its distance in hops.
func reverseBFS(adj map[string][]Edge, target string) map[string]int {
	reverse := make(map[string][]string)
	for from, edges := range adj {
		for _, e := range edges {
			reverse[e.To] = append(reverse[e.To], from)
		}
	}

	dist := map[string]int{target: 0}
	queue := []string{target}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		preds := reverse[node]
		sort.Strings(preds)
		for _, p := range preds {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[node] + 1
			queue = append(queue, p)
		}
	}
	return dist
}

// Consumers returns the edges leading out of kind (what consumes it).
func (s *System) Consumers(kind string) []Edge {
	adj := s.adjacency()
	return append([]Edge(nil), adj[kind]...)
}

// Producers returns the edges leading into kind (what produces it).
func (s *System) Producers(kind string) []Edge {
	edgeRecs := s.store.Find(edgesCollection, storage.Filter{"to": ir.Str(kind)})
	out := make([]Edge, 0, len(edgeRecs))
	for _, rec := range edgeRecs {
		out = append(out, edgeFromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}
