package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestSummary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "strategy.py")
	writeFile(t, dir, "data/prices.csv")
	writeFile(t, dir, ".git/config")
	writeFile(t, dir, ".plans/abc.json")
	writeFile(t, dir, "__pycache__/strategy.cpython-311.pyc")

	summary := Summary(dir)

	assert.Contains(t, summary, "strategy.py")
	assert.Contains(t, summary, "data/prices.csv")
	assert.NotContains(t, summary, ".git")
	assert.NotContains(t, summary, ".plans")
	assert.NotContains(t, summary, "__pycache__")
	assert.Contains(t, summary, "Workspace files (2):")
}

func TestSummary_EmptyOrMissing(t *testing.T) {
	assert.Equal(t, "The workspace is empty.", Summary(t.TempDir()))
	assert.Equal(t, "The workspace is empty.", Summary(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestSummary_Truncation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < maxListedFiles+10; i++ {
		writeFile(t, dir, filepath.Join("src", fmt.Sprintf("file%03d.py", i)))
	}

	summary := Summary(dir)
	assert.Contains(t, summary, "... (listing truncated)")
}
