// Package sandbox confines caller-supplied paths to a root directory.
//
// Resolution happens in two stages. The lexical stage joins the request with
// the root and cleans it without touching the filesystem; anything that lands
// outside the root is rejected. The physical stage, used whenever the target
// must exist, resolves symlinks and checks containment again against the real
// root, so a link planted inside the tree cannot point the caller outside it.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/trybeacon/bridge/internal/errors"
)

// Sandbox is a root directory boundary. The zero value is not usable; create
// one with New.
type Sandbox struct {
	root string
}

// Path is a resolved location inside a Sandbox.
type Path struct {
	// Abs is the absolute filesystem path.
	Abs string

	// Rel is the root-relative path with forward slashes. Empty for the root.
	Rel string
}

// IsRoot reports whether the path is the sandbox root itself.
func (p Path) IsRoot() bool {
	return p.Rel == ""
}

// Name returns the last element, or "/" for the root.
func (p Path) Name() string {
	if p.IsRoot() {
		return "/"
	}
	return filepath.Base(p.Abs)
}

// New creates a Sandbox rooted at dir. The root is made absolute and
// symlink-resolved, and must be an existing directory.
func New(dir string) (*Sandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to resolve sandbox root", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, fmt.Sprintf("sandbox root unavailable: %s", dir), err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "failed to stat sandbox root", err)
	}
	if !info.IsDir() {
		return nil, apperrors.New(apperrors.CodeInternal, fmt.Sprintf("sandbox root is not a directory: %s", dir))
	}
	return &Sandbox{root: real}, nil
}

// Root returns the absolute, symlink-free root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps a request path into the sandbox without touching the
// filesystem. Leading separators are stripped, so "/a" and "a" are the same
// path, and an empty request is the root.
func (s *Sandbox) Resolve(reqPath string) (Path, error) {
	rel := strings.TrimSpace(reqPath)
	rel = strings.TrimLeft(rel, `/\`)
	if rel == "" {
		return Path{Abs: s.root}, nil
	}

	candidate := filepath.Join(s.root, filepath.FromSlash(rel))
	if !Within(candidate, s.root) {
		return Path{}, apperrors.PathEscapesRoot(reqPath)
	}
	return s.pathFor(candidate), nil
}

// ResolveExisting resolves reqPath, requires it to exist, and verifies its
// real location is still inside the real root. The returned Abs is the real
// path.
func (s *Sandbox) ResolveExisting(reqPath string) (Path, error) {
	p, err := s.Resolve(reqPath)
	if err != nil {
		return Path{}, err
	}

	real, err := filepath.EvalSymlinks(p.Abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Path{}, apperrors.NotFound(p.Rel)
		}
		return Path{}, apperrors.IOFailed("resolve path", err)
	}
	if !Within(real, s.root) {
		return Path{}, apperrors.PathEscapesRoot(reqPath)
	}
	return s.pathFor(real), nil
}

// ResolveForWrite resolves a path that may not exist yet. The nearest
// existing ancestor (or the target itself, when present) must resolve inside
// the real root, so a write cannot follow a symlinked directory out of the
// sandbox. The returned Abs is the lexical path.
func (s *Sandbox) ResolveForWrite(reqPath string) (Path, error) {
	p, err := s.Resolve(reqPath)
	if err != nil {
		return Path{}, err
	}

	existing := p.Abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing || !Within(parent, s.root) {
			existing = s.root
			break
		}
		existing = parent
	}

	real, err := filepath.EvalSymlinks(existing)
	if err != nil {
		if os.IsNotExist(err) {
			// Dangling link: its target is unknown, refuse to write through it.
			return Path{}, apperrors.PathEscapesRoot(reqPath)
		}
		return Path{}, apperrors.IOFailed("resolve path", err)
	}
	if !Within(real, s.root) {
		return Path{}, apperrors.PathEscapesRoot(reqPath)
	}
	return p, nil
}

// RelPath returns the forward-slash path of abs relative to the root.
func (s *Sandbox) RelPath(abs string) string {
	return s.pathFor(abs).Rel
}

func (s *Sandbox) pathFor(abs string) Path {
	if abs == s.root {
		return Path{Abs: abs}
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return Path{Abs: abs, Rel: filepath.ToSlash(abs)}
	}
	return Path{Abs: abs, Rel: filepath.ToSlash(rel)}
}

// Within reports whether candidate equals parent or is a descendant of it.
// Both paths must already be clean.
func Within(candidate, parent string) bool {
	if candidate == parent {
		return true
	}
	if strings.HasSuffix(parent, string(filepath.Separator)) {
		return strings.HasPrefix(candidate, parent)
	}
	return strings.HasPrefix(candidate, parent+string(filepath.Separator))
}
