// Package location canonicalises registry locations so that blacklist prefixes
// recorded with --add compare byte-for-byte with the URIs the registry reports.
//
// Canonical form rules:
//   - absolute paths become file:// URIs with RFC 3986 percent-encoding
//   - file:// URIs are decoded, cleaned and re-encoded
//   - other schemes only get their scheme and host lower-cased
//   - a trailing slash is preserved and means "children only"
//   - comparison is case-sensitive
package location

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidLocation is returned for input that cannot be turned into a
// canonical location.
var ErrInvalidLocation = errors.New("location: invalid location")

const fileScheme = "file"

// Normalize returns the canonical form of a URI or absolute path.
// It performs no I/O.
func Normalize(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocation)
	}

	if strings.HasPrefix(s, "/") {
		return fileURI(s), nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidLocation, s, err)
	}
	// Single-letter schemes are drive letters, not URIs.
	if len(u.Scheme) < 2 {
		return "", fmt.Errorf("%w: %q is neither a URI nor an absolute path", ErrInvalidLocation, s)
	}

	if strings.EqualFold(u.Scheme, fileScheme) {
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: %q names a remote host", ErrInvalidLocation, s)
		}
		if u.Path == "" || !strings.HasPrefix(u.Path, "/") {
			return "", fmt.Errorf("%w: %q has no absolute path", ErrInvalidLocation, s)
		}
		return fileURI(u.Path), nil
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

// FromUserInput resolves command-line input (relative paths, ~) and
// normalises it.
func FromUserInput(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLocation)
	}

	// Expand tilde to home directory if present
	if s == "~" || strings.HasPrefix(s, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand ~: %w", err)
		}
		trailing := strings.HasSuffix(s, "/") && s != "~/"
		s = filepath.Join(homeDir, strings.TrimPrefix(s[1:], "/"))
		if trailing {
			s += "/"
		}
		return Normalize(s)
	}

	if strings.HasPrefix(s, "/") || looksLikeURI(s) {
		return Normalize(s)
	}

	trailing := strings.HasSuffix(s, "/")
	absPath, err := filepath.Abs(s)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %q: %v", ErrInvalidLocation, s, err)
	}
	if trailing {
		absPath += "/"
	}
	return Normalize(absPath)
}

// HasSegmentPrefix reports whether the first n bytes of candidate form a
// prefix that ends on a path-segment boundary. The caller is responsible for
// checking that those n bytes actually equal the prefix.
func HasSegmentPrefix(candidate string, n int) bool {
	if n <= 0 || n > len(candidate) {
		return false
	}
	if n == len(candidate) || candidate[n-1] == '/' {
		return true
	}
	switch candidate[n] {
	case '/', '?', '#':
		return true
	}
	return false
}

func fileURI(p string) string {
	trailing := strings.HasSuffix(p, "/") && p != "/"
	cleaned := path.Clean(p)
	if trailing {
		cleaned += "/"
	}
	u := url.URL{Path: cleaned}
	return "file://" + u.EscapedPath()
}

func looksLikeURI(s string) bool {
	i := strings.Index(s, "://")
	if i < 2 {
		return false
	}
	for _, r := range s[:i] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return true
}
