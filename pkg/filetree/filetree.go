// Package filetree renders a bounded, ignore-aware snapshot of a directory
// for injection into a system prompt.
package filetree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/jingkaihe/keel/pkg/ignore"
	"github.com/jingkaihe/keel/pkg/logger"
)

const (
	DefaultMaxDepth = 4
	DefaultMaxLines = 200
	indent          = "  "
)

// ErrRootNotFound is returned when the requested root does not exist.
var ErrRootNotFound = errors.New("root path does not exist")

// Options bounds the traversal.
type Options struct {
	MaxDepth int `mapstructure:"max_depth"`
	MaxLines int `mapstructure:"max_lines"`
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultMaxLines
	}
	return o
}

// TruncationMarker is the line appended once MaxLines entries were written.
func TruncationMarker(maxLines int) string {
	return fmt.Sprintf("... (truncated after %d entries)", maxLines)
}

type walker struct {
	ctx      context.Context
	root     string
	opts     Options
	matcher  *ignore.Matcher
	collator *collate.Collator
	lines    []string
	full     bool
}

// Build renders the tree under root. A file root yields its base name and an
// empty directory yields "".
func Build(ctx context.Context, root string, opts Options) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(ErrRootNotFound, root)
		}
		return "", errors.Wrapf(err, "failed to stat %s", root)
	}
	if !info.IsDir() {
		return filepath.Base(root), nil
	}

	matcher, err := ignore.Resolve(root)
	if err != nil {
		return "", err
	}

	w := &walker{
		ctx:      ctx,
		root:     root,
		opts:     opts.withDefaults(),
		matcher:  matcher,
		collator: collate.New(language.Und, collate.IgnoreCase),
	}
	if err := w.walk("", 1); err != nil {
		return "", err
	}
	return strings.Join(w.lines, "\n"), nil
}

func (w *walker) walk(rel string, depth int) error {
	dir := filepath.Join(w.root, rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if rel == "" {
			return errors.Wrapf(err, "failed to read %s", dir)
		}
		logger.G(w.ctx).WithError(err).WithField("path", dir).Warn("skipping unreadable directory")
		return nil
	}
	w.sort(entries)
	if rel != "" {
		if err := w.matcher.AddDir(dir, rel); err != nil {
			return err
		}
	}

	for _, entry := range entries {
		if w.full {
			return nil
		}
		childRel := filepath.Join(rel, entry.Name())
		isDir := entry.IsDir()
		if w.matcher.Match(childRel, isDir) {
			continue
		}

		if len(w.lines) == w.opts.MaxLines {
			w.lines = append(w.lines, TruncationMarker(w.opts.MaxLines))
			w.full = true
			return nil
		}

		name := entry.Name()
		if isDir {
			name += "/"
		}
		w.lines = append(w.lines, strings.Repeat(indent, depth-1)+name)

		if isDir && depth < w.opts.MaxDepth {
			if err := w.walk(childRel, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// sort orders directories before files, then by case-insensitive collation
// with a byte-order tie break so output is stable across runs.
func (w *walker) sort(entries []os.DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		if c := w.collator.CompareString(a.Name(), b.Name()); c != 0 {
			return c < 0
		}
		return a.Name() < b.Name()
	})
}
