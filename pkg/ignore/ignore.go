// Package ignore resolves gitignore-style exclusion rules for a directory.
//
// Rules are gathered by walking from the target directory up to the
// filesystem root and reading every ignore file found on the way. A fixed set
// of default exclusions is applied first, then the discovered files from the
// outermost ancestor to the target itself, so rules closer to the target win.
package ignore

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// FileNames are the ignore files read at every ancestor level.
var FileNames = []string{".gitignore", ".keelignore"}

// Defaults are always excluded regardless of ignore files.
var Defaults = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	"vendor/",
	".venv/",
	"venv/",
	"__pycache__/",
	".cache/",
	"*.log",
	"*.tmp",
	"*.swp",
	".DS_Store",
}

type rule struct {
	source  string
	glob    string
	prefix  string // target dir relative to the ignore file's dir, slash separated
	base    string // ignore file's dir relative to the target, for nested files
	negate  bool
	dirOnly bool
}

// Matcher answers whether a path relative to the resolved directory is ignored.
type Matcher struct {
	rules []rule
}

// Resolve builds the Matcher for dir.
func Resolve(dir string) (*Matcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", dir)
	}

	m := &Matcher{}
	for _, p := range Defaults {
		if r, ok := parseRule(p, "", "<defaults>"); ok {
			m.rules = append(m.rules, r)
		}
	}

	var levels []string
	for cur := abs; ; cur = filepath.Dir(cur) {
		levels = append(levels, cur)
		if parent := filepath.Dir(cur); parent == cur {
			break
		}
	}

	for i := len(levels) - 1; i >= 0; i-- {
		level := levels[i]
		prefix, err := filepath.Rel(level, abs)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to relate %s to %s", abs, level)
		}
		prefix = filepath.ToSlash(prefix)
		if prefix == "." {
			prefix = ""
		}
		for _, name := range FileNames {
			rules, err := readRules(filepath.Join(level, name), prefix)
			if err != nil {
				return nil, err
			}
			m.rules = append(m.rules, rules...)
		}
	}
	return m, nil
}

// AddDir reads the ignore files in dir, a directory below the resolved one at
// the slash-separated relative path base. Its rules apply only beneath base and
// override every rule added before them.
func (m *Matcher) AddDir(dir, base string) error {
	base = strings.Trim(filepath.ToSlash(base), "/")
	if base == "." {
		base = ""
	}
	for _, name := range FileNames {
		rules, err := readRules(filepath.Join(dir, name), "")
		if err != nil {
			return err
		}
		for i := range rules {
			rules[i].base = base
		}
		m.rules = append(m.rules, rules...)
	}
	return nil
}

// New builds a Matcher from literal patterns relative to the matched root.
// Defaults are not included.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if r, ok := parseRule(p, "", "<inline>"); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

func readRules(file, prefix string) ([]rule, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open ignore file %s", file)
	}
	defer f.Close()

	var rules []rule
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if r, ok := parseRule(scanner.Text(), prefix, file); ok {
			rules = append(rules, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read ignore file %s", file)
	}
	return rules, nil
}

func parseRule(line, prefix, source string) (rule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	r := rule{source: source, prefix: prefix}
	switch {
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if line == "" {
		return rule{}, false
	}

	if strings.Contains(line, "/") {
		r.glob = strings.TrimPrefix(line, "/")
	} else {
		r.glob = "**/" + line
	}
	if r.dirOnly {
		r.glob += "/"
	}
	if !doublestar.ValidatePattern(r.glob) {
		return rule{}, false
	}
	return r, true
}

// Match reports whether rel (relative to the resolved directory) is ignored.
// Directories are tested both as rel and rel + "/". Later rules override
// earlier ones, and an ignored ancestor directory ignores everything below it.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.matchOne(path.Join(parts[:i]...), true) {
			return true
		}
	}
	return m.matchOne(rel, isDir)
}

func (m *Matcher) matchOne(rel string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		full := rel
		switch {
		case r.base != "":
			if !strings.HasPrefix(rel, r.base+"/") {
				continue
			}
			full = strings.TrimPrefix(rel, r.base+"/")
		case r.prefix != "":
			full = r.prefix + "/" + rel
		}
		if r.matches(full, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(full string, isDir bool) bool {
	candidates := []string{full}
	if isDir {
		candidates = append(candidates, full+"/")
	}
	for _, c := range candidates {
		if ok, _ := doublestar.Match(r.glob, c); ok {
			return true
		}
	}
	return false
}

// Len returns the number of accumulated rules, defaults included.
func (m *Matcher) Len() int {
	return len(m.rules)
}
