// Package cache implements the compile cache (spec §4.J): a SHA-256 source
// manifest under .copf-cache/ that lets `copf compile --cache` skip
// recompiling concept and sync files whose content hasn't changed since the
// last run.
//
// Concept specs round-trip through plain encoding/json safely (no
// interface-typed fields), so they are the only artifact cached on disk.
// Sync rules embed ir.BindingValue, an interface with no registered JSON
// tag discriminator anywhere in this codebase, so a cached SyncRule would
// silently fail to reconstruct its concrete binding types on load; sync
// rules are therefore always recompiled even on a cache hit, and only the
// source-hash bookkeeping for them is persisted.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Itshalffull/copf/internal/ir"
)

// DirName is the cache directory created alongside the specs it compiles.
const DirName = ".copf-cache"

const (
	manifestFile = "sources.json"
	conceptsFile = "concepts.json"
)

// Manifest records the SHA-256 hash of every source file compiled into the
// cache, keyed by path. A single changed hash invalidates the whole cache:
// sync rules can reference any concept, so a per-file staleness check
// cannot be scoped finer than "the whole manifest" without re-deriving the
// dependency graph the compiler itself builds.
type Manifest struct {
	Hashes map[string]string `json:"hashes"`
}

// Cache is a loaded compile cache rooted at a directory (normally a
// specs directory's .copf-cache subdirectory).
type Cache struct {
	dir      string
	Manifest Manifest
	Concepts []ir.ConceptSpec
}

// Load reads an existing cache from dir, or returns an empty one if none
// exists yet or the manifest is corrupt. A corrupt cache is always
// recoverable by recompiling, never a hard error.
func Load(dir string) *Cache {
	c := &Cache{
		dir:      dir,
		Manifest: Manifest{Hashes: make(map[string]string)},
	}

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err == nil {
		var m Manifest
		if jsonErr := json.Unmarshal(data, &m); jsonErr == nil && m.Hashes != nil {
			c.Manifest = m
		}
	}

	conceptData, err := os.ReadFile(filepath.Join(dir, conceptsFile))
	if err == nil {
		var concepts []ir.ConceptSpec
		if jsonErr := json.Unmarshal(conceptData, &concepts); jsonErr == nil {
			c.Concepts = concepts
		}
	}

	return c
}

// HashSource computes the cache's content hash for a source file's bytes.
func HashSource(content []byte) string {
	return ir.HashWithDomain(ir.DomainCacheSource, content)
}

// HashFile reads path and computes its source hash.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return HashSource(data), nil
}

// Stale reports whether any file in currentHashes (path -> hash) differs
// from, or is absent from, the cached manifest, or vice versa. An empty
// cache (first run) is always stale.
func (c *Cache) Stale(currentHashes map[string]string) bool {
	if len(c.Manifest.Hashes) != len(currentHashes) {
		return true
	}
	for path, hash := range currentHashes {
		if c.Manifest.Hashes[path] != hash {
			return true
		}
	}
	return false
}

// Store writes the manifest and compiled concept specs to dir, creating it
// if necessary. Sync rules are deliberately not persisted; see the package
// doc comment.
func Store(dir string, hashes map[string]string, concepts []ir.ConceptSpec) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %s: %w", dir, err)
	}

	manifest := Manifest{Hashes: hashes}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), manifestData, 0644); err != nil {
		return fmt.Errorf("writing cache manifest: %w", err)
	}

	conceptData, err := json.MarshalIndent(concepts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cached concepts: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, conceptsFile), conceptData, 0644); err != nil {
		return fmt.Errorf("writing cached concepts: %w", err)
	}

	return nil
}

// HashFiles computes the source hash of every given file, keyed by path.
func HashFiles(paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		h, err := HashFile(p)
		if err != nil {
			return nil, err
		}
		hashes[p] = h
	}
	return hashes, nil
}

// SortedPaths returns the manifest's file paths in sorted order, useful for
// deterministic reporting of what's tracked in a cache.
func (c *Cache) SortedPaths() []string {
	paths := make([]string, 0, len(c.Manifest.Hashes))
	for p := range c.Manifest.Hashes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
