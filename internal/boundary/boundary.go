// Package boundary confines file access to a project root. Validation
// rejects traversal tokens before any filesystem access, then canonicalizes
// with symlink resolution and requires the result to stay a descendant of
// the root. Symlink escapes get their own error variant: a traversal token
// is a static mistake, a symlink pointing outside the root is an attack
// surface, and callers must not conflate the two.
package boundary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toolgate/internal/logging"
)

var (
	// ErrOutsideBoundary is returned for an absolute path that does not
	// live under the project root.
	ErrOutsideBoundary = errors.New("path outside project boundary")

	// ErrEscapesBoundary is returned when traversal segments would move the
	// resolved path out of the project root.
	ErrEscapesBoundary = errors.New("path escapes project boundary")

	// ErrSymlinkEscapesBoundary is returned when a symlink component
	// resolves outside the project root.
	ErrSymlinkEscapesBoundary = errors.New("symlink escapes project boundary")

	// ErrContentTooLarge is returned by AtomicWrite when content exceeds
	// the size ceiling.
	ErrContentTooLarge = errors.New("content exceeds size limit")

	// ErrFileTooLarge is returned by AtomicRead for oversized files.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

const (
	// MaxWriteSize caps AtomicWrite content.
	MaxWriteSize = 8 << 20 // 8 MiB

	// MaxReadSize caps AtomicRead results.
	MaxReadSize = 32 << 20 // 32 MiB
)

// Validate resolves candidate against projectRoot and returns the canonical
// absolute path if it stays inside the boundary.
//
// Traversal tokens in the candidate are rejected before any syscall is made
// on it. Symlinks anywhere in the resolved path are followed; if following
// them leaves the root, the symlink-specific error is returned.
func Validate(candidate, projectRoot string) (string, error) {
	if candidate == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideBoundary)
	}

	// Static check first: no filesystem access on inputs carrying traversal
	// tokens.
	if hasTraversal(candidate) {
		logging.BoundaryWarn("rejected traversal token in %q", candidate)
		return "", fmt.Errorf("%w: %s", ErrEscapesBoundary, candidate)
	}

	canonicalRoot, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		return "", fmt.Errorf("cannot canonicalize project root %s: %w", projectRoot, err)
	}
	canonicalRoot, err = filepath.Abs(canonicalRoot)
	if err != nil {
		return "", fmt.Errorf("cannot resolve project root %s: %w", projectRoot, err)
	}

	joined := candidate
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(canonicalRoot, joined)
	}
	joined = filepath.Clean(joined)

	// Lexical containment before symlink resolution. An absolute path
	// pointing elsewhere is a static mistake, not a symlink attack.
	if !isDescendant(canonicalRoot, joined) {
		logging.BoundaryWarn("rejected %q: outside root %s", candidate, canonicalRoot)
		return "", fmt.Errorf("%w: %s", ErrOutsideBoundary, candidate)
	}

	// Canonicalize, resolving symlinks. The target may not exist yet (write
	// paths), so resolve the deepest existing ancestor and re-append the
	// remainder.
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", fmt.Errorf("cannot canonicalize %s: %w", candidate, err)
	}

	if !isDescendant(canonicalRoot, resolved) {
		logging.BoundaryWarn("rejected %q: symlink resolves to %s, outside root %s", candidate, resolved, canonicalRoot)
		return "", fmt.Errorf("%w: %s", ErrSymlinkEscapesBoundary, candidate)
	}

	return resolved, nil
}

// hasTraversal reports whether any segment of the raw input is "..".
func hasTraversal(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// isDescendant reports whether path equals root or lives beneath it. Both
// arguments must already be absolute and cleaned.
func isDescendant(root, path string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExisting canonicalizes path, falling back to the deepest existing
// ancestor when the tail does not exist yet.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if dir == path {
		// Hit the root without finding anything that exists.
		return path, nil
	}
	resolvedDir, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
