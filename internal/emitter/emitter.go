// Package emitter implements the content-addressed output writer (spec
// §4.H): idempotent writes to the filesystem with a provenance record of
// what produced each output and from which sources, supporting the
// "copf impact" reverse lookup.
//
// The idempotency check - hash the content, compare against the recorded
// hash, no-op on a match - follows the same "insert, check, no-op on
// conflict" idiom as internal/store's WriteSyncFiringAtomic, applied here
// to filesystem writes instead of SQL rows.
package emitter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Itshalffull/copf/internal/ir"
	"github.com/Itshalffull/copf/internal/storage"
)

const provenanceCollection = "provenance"

// emissionDomain domain-separates emitter content hashes from the
// invocation/completion/binding hash domains in internal/ir, following the
// same HashWithDomain convention.
const emissionDomain = "copf/emission/v1"

// WriteRequest is one file to emit, as used by WriteBatch.
type WriteRequest struct {
	Path    string
	Content []byte
	Target  string
	Concept string
	Sources []string
}

// WriteResult reports the outcome of a single write.
type WriteResult struct {
	Path    string
	Written bool
	Err     error
}

// CollisionError is returned when a write targets a path that already
// holds different content under the same target namespace.
type CollisionError struct {
	Path           string
	Target         string
	ExistingTarget string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("content mismatch at %q for target %q (existing target %q): "+
		"different bytes at the same path require a namespaced output path", e.Path, e.Target, e.ExistingTarget)
}

// Emitter writes files idempotently and tracks provenance so that
// "copf impact" can answer "what does changing this source affect".
type Emitter struct {
	store storage.ConceptStorage
}

// New returns an Emitter whose provenance table is held in store.
func New(store storage.ConceptStorage) *Emitter {
	return &Emitter{store: store}
}

// Write computes the content hash and, if an entry for path already
// carries the same hash, returns written=false without touching the
// filesystem. Otherwise it writes the file atomically (temp file + rename)
// and records provenance.
func (e *Emitter) Write(path string, content []byte, target, concept string, sources []string) (written bool, err error) {
	hash := ir.HashWithDomain(emissionDomain, content)

	if existing, ok := e.store.Get(provenanceCollection, path); ok {
		existingHash := string(existing["hash"].(ir.Str))
		existingTarget := string(existing["target"].(ir.Str))
		if existingHash == hash {
			return false, nil
		}
		if existingTarget == target {
			return false, &CollisionError{Path: path, Target: target, ExistingTarget: existingTarget}
		}
		// Different target namespace: treat as a fresh producer for this path.
	}

	if err := atomicWrite(path, content); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}

	sourceList := make(ir.List, len(sources))
	for i, s := range sources {
		sourceList[i] = ir.Str(s)
	}

	e.store.Put(provenanceCollection, path, ir.Record{
		"path":    ir.Str(path),
		"hash":    ir.Str(hash),
		"target":  ir.Str(target),
		"concept": ir.Str(concept),
		"sources": sourceList,
	})

	return true, nil
}

// WriteBatch writes every request, parallelizing independent writes.
// Results are returned in the same order as requests.
func (e *Emitter) WriteBatch(requests []WriteRequest) []WriteResult {
	results := make([]WriteResult, len(requests))

	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req WriteRequest) {
			defer wg.Done()
			written, err := e.Write(req.Path, req.Content, req.Target, req.Concept, req.Sources)
			results[i] = WriteResult{Path: req.Path, Written: written, Err: err}
		}(i, req)
	}
	wg.Wait()

	return results
}

// Affected returns every output path whose recorded sources include
// sourcePath, sorted for deterministic reporting. Each provenance record
// carries its own path (see Write) since ConceptStorage.Find does not
// surface the storage key itself.
func (e *Emitter) Affected(sourcePath string) []string {
	records := e.store.Find(provenanceCollection, storage.Filter{})

	var affected []string
	for _, rec := range records {
		sources, ok := rec["sources"].(ir.List)
		if !ok {
			continue
		}
		for _, s := range sources {
			if str, ok := s.(ir.Str); ok && string(str) == sourcePath {
				if p, ok := rec["path"].(ir.Str); ok {
					affected = append(affected, string(p))
				}
				break
			}
		}
	}

	sort.Strings(affected)
	return affected
}

func atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".emit-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
