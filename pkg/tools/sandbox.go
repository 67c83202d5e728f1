package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrPathEscape is returned for paths that resolve outside the sandbox root.
var ErrPathEscape = errors.New("path escapes the repository root")

// Sandbox confines file access to one root directory.
type Sandbox struct {
	root string
	real string
}

// NewSandbox creates a Sandbox rooted at root, which must be an existing directory.
func NewSandbox(root string) (*Sandbox, error) {
	if root == "" {
		return nil, errors.New("sandbox root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve sandbox root %s", root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat sandbox root %s", abs)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("sandbox root %s is not a directory", abs)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve sandbox root %s", abs)
	}
	return &Sandbox{root: abs, real: real}, nil
}

// Root returns the absolute sandbox root.
func (s *Sandbox) Root() string {
	return s.root
}

// Resolve maps p (relative to the root, or absolute inside it) to an absolute
// path. Escapes are rejected lexically before any filesystem access; symlinks
// are then followed and the target is checked again.
func (s *Sandbox) Resolve(p string) (string, error) {
	candidate, err := s.resolveLexical(p)
	if err != nil {
		return "", err
	}

	real, err := realPath(candidate)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", p)
	}
	if !within(s.real, real) {
		return "", errors.Wrapf(ErrPathEscape, "%q", p)
	}
	return candidate, nil
}

func (s *Sandbox) resolveLexical(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", errors.Errorf("invalid path %q", p)
	}
	var candidate string
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	} else {
		candidate = filepath.Join(s.root, p)
	}
	if !within(s.root, candidate) {
		return "", errors.Wrapf(ErrPathEscape, "%q", p)
	}
	return candidate, nil
}

// Rel returns abs relative to the root with forward slashes.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

func within(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// realPath evaluates symlinks on the deepest existing ancestor of p and
// re-appends the missing tail.
func realPath(p string) (string, error) {
	var tail []string
	current := p
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return p, nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}
