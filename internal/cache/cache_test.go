package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itshalffull/copf/internal/ir"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestEmptyCacheIsStale(t *testing.T) {
	dir := t.TempDir()
	c := Load(filepath.Join(dir, DirName))
	assert.True(t, c.Stale(map[string]string{"a.concept": "deadbeef"}))
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := filepath.Join(srcDir, DirName)

	cartPath := writeSource(t, srcDir, "cart.concept", "concept Cart {}")
	hashes, err := HashFiles([]string{cartPath})
	require.NoError(t, err)

	concepts := []ir.ConceptSpec{{Name: "Cart", Purpose: "manage a cart"}}
	require.NoError(t, Store(cacheDir, hashes, concepts))

	loaded := Load(cacheDir)
	require.False(t, loaded.Stale(hashes))
	require.Len(t, loaded.Concepts, 1)
	assert.Equal(t, "Cart", loaded.Concepts[0].Name)
}

func TestChangedSourceIsStale(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := filepath.Join(srcDir, DirName)

	cartPath := writeSource(t, srcDir, "cart.concept", "concept Cart {}")
	hashes, err := HashFiles([]string{cartPath})
	require.NoError(t, err)
	require.NoError(t, Store(cacheDir, hashes, nil))

	writeSource(t, srcDir, "cart.concept", "concept Cart { purpose: \"changed\" }")
	newHashes, err := HashFiles([]string{cartPath})
	require.NoError(t, err)

	loaded := Load(cacheDir)
	assert.True(t, loaded.Stale(newHashes))
}

func TestAddingOrRemovingAFileIsStale(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := filepath.Join(srcDir, DirName)

	cartPath := writeSource(t, srcDir, "cart.concept", "concept Cart {}")
	hashes, err := HashFiles([]string{cartPath})
	require.NoError(t, err)
	require.NoError(t, Store(cacheDir, hashes, nil))

	orderPath := writeSource(t, srcDir, "order.concept", "concept Order {}")
	grown, err := HashFiles([]string{cartPath, orderPath})
	require.NoError(t, err)

	loaded := Load(cacheDir)
	assert.True(t, loaded.Stale(grown))
}

func TestCorruptManifestRecoversAsEmpty(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, DirName)
	require.NoError(t, os.MkdirAll(cacheDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, "sources.json"), []byte("{not json"), 0644))

	c := Load(cacheDir)
	assert.Empty(t, c.Manifest.Hashes)
}

func TestSortedPaths(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := filepath.Join(srcDir, DirName)

	bPath := writeSource(t, srcDir, "b.concept", "concept B {}")
	aPath := writeSource(t, srcDir, "a.concept", "concept A {}")
	hashes, err := HashFiles([]string{bPath, aPath})
	require.NoError(t, err)
	require.NoError(t, Store(cacheDir, hashes, nil))

	loaded := Load(cacheDir)
	assert.Equal(t, []string{aPath, bPath}, loaded.SortedPaths())
}
