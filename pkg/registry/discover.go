package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// OpenFunc opens the registry stored at path.
type OpenFunc func(path string) (Adapter, error)

// Discover resolves target patterns to registries. Patterns may start with
// ~/, reference environment variables and use glob syntax (*, ?, [..], {..},
// ** across directories).
//
// A target that cannot be opened is skipped; its error (wrapping
// ErrUnavailable) is returned in skipped and the remaining targets proceed.
func Discover(fsys afero.Fs, patterns []string, open OpenFunc) (adapters []Adapter, skipped []error) {
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		paths, err := expandPattern(fsys, pattern)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		for _, path := range paths {
			if seen[path] {
				continue
			}
			seen[path] = true

			a, err := open(path)
			if err != nil {
				if !errors.Is(err, ErrUnavailable) {
					err = fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
				}
				skipped = append(skipped, err)
				continue
			}
			adapters = append(adapters, a)
		}
	}
	return adapters, skipped
}

func expandPattern(fsys afero.Fs, pattern string) ([]string, error) {
	expanded, err := expandHome(os.ExpandEnv(strings.TrimSpace(pattern)))
	if err != nil {
		return nil, err
	}
	if expanded == "" {
		return nil, fmt.Errorf("%w: empty target pattern", ErrUnavailable)
	}
	expanded = filepath.Clean(expanded)

	if !hasMeta(expanded) {
		return []string{expanded}, nil
	}

	g, err := glob.Compile(expanded, '/')
	if err != nil {
		return nil, fmt.Errorf("%w: invalid target pattern '%s': %v", ErrUnavailable, pattern, err)
	}

	root := staticRoot(expanded)
	maxDepth := -1
	if !strings.Contains(expanded, "**") {
		maxDepth = strings.Count(strings.TrimPrefix(expanded, root), "/")
	}

	var matches []string
	walkErr := afero.Walk(fsys, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if info.IsDir() {
			if maxDepth >= 0 && path != root && depth(root, path) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if g.Match(path) {
			matches = append(matches, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, pattern, walkErr)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no registry matches '%s'", ErrUnavailable, pattern)
	}
	return matches, nil
}

// staticRoot returns the deepest directory of pattern that contains no glob
// syntax.
func staticRoot(pattern string) string {
	parts := strings.Split(pattern, "/")
	for i, part := range parts {
		if hasMeta(part) {
			root := strings.Join(parts[:i], "/")
			if root == "" {
				return "/"
			}
			return root
		}
	}
	return filepath.Dir(pattern)
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand ~: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(p[1:], "/")), nil
}
