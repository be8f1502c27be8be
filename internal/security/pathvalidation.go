// Package security validates user-supplied file paths before the import and
// render tools touch the filesystem.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateDataPath checks that path resolves to a location inside dataRoot.
// Symlinks are resolved before comparison so a link cannot smuggle a read or
// write outside the root. For paths that do not exist yet the nearest
// existing ancestor is resolved instead.
func ValidateDataPath(path, dataRoot string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(dataRoot)
	if err != nil {
		return fmt.Errorf("resolve data root: %w", err)
	}

	canonical := resolveExisting(absPath)
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolve data root symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil {
		return fmt.Errorf("path is outside data root: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dataRoot)
	}
	return nil
}

// resolveExisting resolves symlinks for path, falling back to the nearest
// existing ancestor when the path itself does not exist (output files).
func resolveExisting(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	check := absPath
	for {
		parent := filepath.Dir(check)
		if parent == check {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, relErr := filepath.Rel(parent, absPath)
			if relErr != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		check = parent
	}
}

// ValidateOutputPath accepts output paths under the temp directory or the
// current working directory. The render tool refuses anything else.
func ValidateOutputPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	for _, root := range []string{os.TempDir(), cwd} {
		if ValidateDataPath(path, root) == nil {
			return nil
		}
	}
	return fmt.Errorf("output path must be under the temp or working directory: %s", path)
}

// SanitizeFilename makes a safe filename fragment from an arbitrary map or
// dataset name: non [A-Za-z0-9._-] runes become underscores, repeats
// collapse, and the result is length-capped.
func SanitizeFilename(s string) string {
	if s == "" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_':
			if !lastUnderscore {
				b.WriteRune(r)
			}
			lastUnderscore = true
		default:
			if !lastUnderscore {
				b.WriteRune('_')
			}
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
