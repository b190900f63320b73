package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantpilot/quantpilot/pkg/agent/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKit(t *testing.T) (*tool.Registry, string) {
	t.Helper()

	dir := t.TempDir()
	registry := tool.NewRegistry()
	require.NoError(t, Register(registry, dir))
	return registry, dir
}

func TestRegister(t *testing.T) {
	registry, _ := newTestKit(t)

	assert.Equal(t, []string{"grep", "list_directory", "read_file", "shell_exec", "write_file"}, registry.List())
}

func TestReadFile(t *testing.T) {
	registry, dir := newTestKit(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("threshold: 3\n"), 0644))

	execution := registry.Execute(context.Background(), "read_file", map[string]any{"path": "config.yaml"})

	require.True(t, execution.Success, execution.Error)
	assert.Equal(t, "threshold: 3\n", execution.Output)
	assert.Equal(t, "threshold: 3\n", execution.Data["content"])
}

func TestReadFile_Missing(t *testing.T) {
	registry, _ := newTestKit(t)

	execution := registry.Execute(context.Background(), "read_file", map[string]any{"path": "nope.txt"})
	assert.False(t, execution.Success)
}

func TestWriteFile(t *testing.T) {
	registry, dir := newTestKit(t)

	execution := registry.Execute(context.Background(), "write_file", map[string]any{
		"path":    "out/report.md",
		"content": "# Report",
	})

	require.True(t, execution.Success, execution.Error)
	assert.Equal(t, []string{"out/report.md"}, execution.FilesChanged)

	data, err := os.ReadFile(filepath.Join(dir, "out", "report.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(data))
}

func TestPathJail(t *testing.T) {
	registry, _ := newTestKit(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "parent escape", path: "../outside.txt"},
		{name: "nested escape", path: "a/../../outside.txt"},
		{name: "absolute path outside", path: "/etc/passwd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution := registry.Execute(context.Background(), "write_file", map[string]any{
				"path":    tt.path,
				"content": "x",
			})
			assert.False(t, execution.Success)
			assert.Contains(t, execution.Error, "outside the workspace")
		})
	}
}

func TestListDirectory(t *testing.T) {
	registry, dir := newTestKit(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	execution := registry.Execute(context.Background(), "list_directory", map[string]any{"path": "."})

	require.True(t, execution.Success, execution.Error)
	assert.Contains(t, execution.Output, "a.py")
	assert.Contains(t, execution.Output, "sub/")
}

func TestGrep(t *testing.T) {
	registry, dir := newTestKit(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "strategy.py"), []byte("def entry():\n    pass\ndef exit():\n    pass\n"), 0644))

	execution := registry.Execute(context.Background(), "grep", map[string]any{"pattern": `def \w+`})

	require.True(t, execution.Success, execution.Error)
	assert.Contains(t, execution.Output, "strategy.py:1: def entry():")
	assert.Contains(t, execution.Output, "strategy.py:3: def exit():")
}

func TestGrep_NoMatches(t *testing.T) {
	registry, dir := newTestKit(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644))

	execution := registry.Execute(context.Background(), "grep", map[string]any{"pattern": "zzz"})
	require.True(t, execution.Success)
	assert.Equal(t, "No matches found.", execution.Output)
}

func TestGrep_InvalidPattern(t *testing.T) {
	registry, _ := newTestKit(t)

	execution := registry.Execute(context.Background(), "grep", map[string]any{"pattern": "[unclosed"})
	assert.False(t, execution.Success)
	assert.Contains(t, execution.Error, "invalid pattern")
}

func TestShellExec(t *testing.T) {
	registry, _ := newTestKit(t)

	execution := registry.Execute(context.Background(), "shell_exec", map[string]any{"command": "echo hello"})
	require.True(t, execution.Success, execution.Error)
	assert.Equal(t, "hello", execution.Output)
}

func TestShellExec_Failure(t *testing.T) {
	registry, _ := newTestKit(t)

	execution := registry.Execute(context.Background(), "shell_exec", map[string]any{"command": "exit 3"})
	assert.False(t, execution.Success)
	assert.Contains(t, execution.Error, "command failed")
}

func TestCapLines(t *testing.T) {
	assert.Equal(t, "a\nb", capLines("a\nb\n", 5))

	long := "1\n2\n3\n4\n5\n"
	capped := capLines(long, 3)
	assert.Contains(t, capped, "1\n2\n3")
	assert.Contains(t, capped, "2 more lines truncated")
}
