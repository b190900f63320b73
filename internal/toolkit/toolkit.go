// Package toolkit provides the builtin workspace tools the agent exposes
// to the language model. Every file tool is jailed to the workspace root;
// paths that escape it are rejected before touching the filesystem.
package toolkit

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/quantpilot/quantpilot/pkg/agent/tool"
	"github.com/rs/zerolog/log"
)

const (
	maxReadBytes     = 256 * 1024
	maxGrepMatches   = 100
	maxShellOutLines = 200
)

// Register adds the builtin tools to a registry, all rooted at workspaceDir.
func Register(registry *tool.Registry, workspaceDir string) error {
	root, err := filepath.Abs(workspaceDir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}

	k := &kit{root: root}

	tools := []tool.Tool{
		k.readFile(),
		k.writeFile(),
		k.listDirectory(),
		k.grep(),
		k.shellExec(),
	}

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return err
		}
	}

	return nil
}

type kit struct {
	root string
}

// resolve maps a tool-supplied path into the workspace jail.
func (k *kit) resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}

	cleaned := filepath.Clean(raw)
	if filepath.IsAbs(cleaned) {
		rel, err := filepath.Rel(k.root, cleaned)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path %q is outside the workspace", raw)
		}
		return cleaned, nil
	}

	full := filepath.Join(k.root, cleaned)
	rel, err := filepath.Rel(k.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is outside the workspace", raw)
	}

	return full, nil
}

func (k *kit) relative(full string) string {
	rel, err := filepath.Rel(k.root, full)
	if err != nil {
		return full
	}
	return rel
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func (k *kit) readFile() tool.Tool {
	return tool.Define(
		"read_file",
		"Read the contents of a file in the workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Workspace-relative path of the file to read",
				},
			},
			"required": []any{"path"},
		},
		func(ctx context.Context, args map[string]any) (tool.Result, error) {
			full, err := k.resolve(stringArg(args, "path"))
			if err != nil {
				return tool.Result{}, err
			}

			info, err := os.Stat(full)
			if err != nil {
				return tool.Result{}, fmt.Errorf("read %s: %w", k.relative(full), err)
			}
			if info.IsDir() {
				return tool.Result{}, fmt.Errorf("%s is a directory", k.relative(full))
			}
			if info.Size() > maxReadBytes {
				return tool.Result{}, fmt.Errorf("%s is too large (%d bytes)", k.relative(full), info.Size())
			}

			content, err := os.ReadFile(full)
			if err != nil {
				return tool.Result{}, fmt.Errorf("read %s: %w", k.relative(full), err)
			}

			return tool.Result{
				Output: string(content),
				Data:   map[string]any{"content": string(content)},
			}, nil
		},
	)
}

func (k *kit) writeFile() tool.Tool {
	return tool.Define(
		"write_file",
		"Create or overwrite a file in the workspace with the given content.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Workspace-relative path of the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Full content to write to the file",
				},
			},
			"required": []any{"path", "content"},
		},
		func(ctx context.Context, args map[string]any) (tool.Result, error) {
			full, err := k.resolve(stringArg(args, "path"))
			if err != nil {
				return tool.Result{}, err
			}

			content := stringArg(args, "content")

			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return tool.Result{}, fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0644); err != nil {
				return tool.Result{}, fmt.Errorf("write %s: %w", k.relative(full), err)
			}

			rel := k.relative(full)
			log.Debug().Str("path", rel).Int("bytes", len(content)).Msg("File written")

			return tool.Result{
				Output:       fmt.Sprintf("Wrote %d bytes to %s", len(content), rel),
				Data:         map[string]any{"content": content},
				FilesChanged: []string{rel},
			}, nil
		},
	)
}

func (k *kit) listDirectory() tool.Tool {
	return tool.Define(
		"list_directory",
		"List the entries of a directory in the workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Workspace-relative directory path, \".\" for the root",
				},
			},
			"required": []any{"path"},
		},
		func(ctx context.Context, args map[string]any) (tool.Result, error) {
			full, err := k.resolve(stringArg(args, "path"))
			if err != nil {
				return tool.Result{}, err
			}

			entries, err := os.ReadDir(full)
			if err != nil {
				return tool.Result{}, fmt.Errorf("list %s: %w", k.relative(full), err)
			}

			var lines []string
			for _, entry := range entries {
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				lines = append(lines, name)
			}
			if len(lines) == 0 {
				return tool.Result{Output: "(empty directory)"}, nil
			}

			return tool.Result{Output: strings.Join(lines, "\n")}, nil
		},
	)
}

func (k *kit) grep() tool.Tool {
	return tool.Define(
		"grep",
		"Search workspace files for lines matching a regular expression.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Go regular expression to search for",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Workspace-relative file or directory to search, defaults to the root",
				},
			},
			"required": []any{"pattern"},
		},
		func(ctx context.Context, args map[string]any) (tool.Result, error) {
			pattern := stringArg(args, "pattern")
			if pattern == "" {
				return tool.Result{}, fmt.Errorf("pattern is required")
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return tool.Result{}, fmt.Errorf("invalid pattern: %w", err)
			}

			start := stringArg(args, "path")
			if start == "" {
				start = "."
			}
			full, err := k.resolve(start)
			if err != nil {
				return tool.Result{}, err
			}

			var matches []string
			walkErr := filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					name := d.Name()
					if path != full && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "__pycache__") {
						return filepath.SkipDir
					}
					return nil
				}
				if len(matches) >= maxGrepMatches {
					return filepath.SkipAll
				}

				info, err := d.Info()
				if err != nil || info.Size() > maxReadBytes {
					return nil
				}

				k.grepFile(path, re, &matches)
				return nil
			})
			if walkErr != nil {
				return tool.Result{}, fmt.Errorf("search failed: %w", walkErr)
			}

			if len(matches) == 0 {
				return tool.Result{Output: "No matches found."}, nil
			}

			return tool.Result{Output: strings.Join(matches, "\n")}, nil
		},
	)
}

func (k *kit) grepFile(path string, re *regexp.Regexp, matches *[]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	rel := k.relative(path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if re.MatchString(text) {
			*matches = append(*matches, fmt.Sprintf("%s:%d: %s", rel, line, text))
			if len(*matches) >= maxGrepMatches {
				return
			}
		}
	}
}

func (k *kit) shellExec() tool.Tool {
	return tool.Define(
		"shell_exec",
		"Run a shell command inside the workspace directory and return its output.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
			},
			"required": []any{"command"},
		},
		func(ctx context.Context, args map[string]any) (tool.Result, error) {
			command := stringArg(args, "command")
			if command == "" {
				return tool.Result{}, fmt.Errorf("command is required")
			}

			log.Debug().Str("command", command).Msg("Executing shell command")

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = k.root

			output, err := cmd.CombinedOutput()
			trimmed := capLines(string(output), maxShellOutLines)

			if err != nil {
				return tool.Result{}, fmt.Errorf("command failed: %v\n%s", err, trimmed)
			}
			if trimmed == "" {
				trimmed = "(no output)"
			}

			return tool.Result{Output: trimmed}, nil
		},
	)
}

func capLines(s string, max int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= max {
		return strings.Join(lines, "\n")
	}
	kept := lines[:max]
	return strings.Join(kept, "\n") + fmt.Sprintf("\n... (%d more lines truncated)", len(lines)-max)
}
