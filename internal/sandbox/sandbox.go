// Package sandbox implements C13: a path confinement check used by any
// component that reads files named by a caller (session logs, session
// optimization) to ensure those paths cannot escape a configured base
// directory.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// Sandbox confines resolved paths to a base directory.
type Sandbox struct {
	baseDir string
}

// New constructs a Sandbox rooted at baseDir. baseDir is cleaned and made
// absolute at construction time so every later comparison is apples-to-apples.
// baseDir itself is also symlink-resolved, so later comparisons against
// EvalSymlinks-resolved candidate paths are apples-to-apples even when the
// configured base directory is itself reached through a symlink.
func New(baseDir string) (*Sandbox, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, apperrors.Internal(err, "resolving sandbox base dir %s", baseDir)
	}
	abs = filepath.Clean(abs)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Sandbox{baseDir: abs}, nil
}

// BaseDir returns the confined root.
func (s *Sandbox) BaseDir() string { return s.baseDir }

// Resolve canonicalizes path (joining it against the base dir if relative),
// resolving any symlinks along the way, and rejects it with a SecurityError
// if the canonical result falls outside the base directory (spec §4.13,
// §4.7/§8 invariant 5: "Never follow symlinks that escape the base"). A
// symlink inside the sandbox pointing outside it — baseDir/evil ->
// /etc/passwd — must be caught here, before a caller ever reads the target,
// so this does touch the filesystem: lexical cleaning alone can't see
// through a symlink hop.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		return "", apperrors.InvalidArgument("path must not be empty")
	}

	joined := path
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(s.baseDir, joined)
	}
	cleaned := filepath.Clean(joined)

	canonical, err := resolveSymlinks(cleaned)
	if err != nil {
		return "", apperrors.Internal(err, "resolving path %s", cleaned)
	}

	if !s.within(canonical) {
		return "", apperrors.Security("path %q escapes sandbox base %q", path, s.baseDir)
	}
	return canonical, nil
}

// resolveSymlinks canonicalizes path with filepath.EvalSymlinks. Since a
// session-log-named path may not exist yet (or may name a file being
// written), it walks up to the deepest existing ancestor, resolves that
// ancestor, and rejoins the remaining, not-yet-existing suffix unresolved —
// any symlink along the existing prefix is still caught.
func resolveSymlinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	dir, base := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := resolveSymlinks(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

func (s *Sandbox) within(cleaned string) bool {
	if cleaned == s.baseDir {
		return true
	}
	return strings.HasPrefix(cleaned, s.baseDir+string(filepath.Separator))
}
