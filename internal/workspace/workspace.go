// Package workspace builds the lightweight project context fed to the
// planner: a bounded listing of the files under the workspace root.
package workspace

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxListedFiles bounds the summary so huge workspaces do not blow up the
// planner prompt.
const maxListedFiles = 200

// skippedDirs are never descended into.
var skippedDirs = map[string]bool{
	".git":         true,
	".plans":       true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// Summary returns a newline-separated listing of workspace-relative file
// paths, capped at maxListedFiles, with a trailing note when truncated.
// A missing or unreadable workspace yields an empty-project note rather
// than an error.
func Summary(dir string) string {
	var files []string
	truncated := false

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.IsDir() {
			if skippedDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}

		if len(files) >= maxListedFiles {
			truncated = true
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("Workspace walk failed")
	}

	if len(files) == 0 {
		return "The workspace is empty."
	}

	sort.Strings(files)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Workspace files (%d):\n", len(files)))
	for _, file := range files {
		sb.WriteString(file)
		sb.WriteByte('\n')
	}
	if truncated {
		sb.WriteString("... (listing truncated)\n")
	}

	return sb.String()
}
