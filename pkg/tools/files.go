package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jingkaihe/keel/pkg/ignore"
	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

const (
	// MaxSearchResults bounds the matches returned by files.search.
	MaxSearchResults = 100
	// MaxListEntries bounds the entries returned by files.list.
	MaxListEntries = 1000
	// MaxLineLength clips matched and read lines.
	MaxLineLength = 300
	// DefaultReadLimit is the number of lines files.read returns by default.
	DefaultReadLimit = 2000
	// MaxFileSize is the largest file files.read and files.search open.
	MaxFileSize = 1 << 20
)

// FilesTool reads, writes, lists and searches files under the sandbox root.
type FilesTool struct{}

var _ tooltypes.Tool = (*FilesTool)(nil)

// ReadInput is the input of files.read.
type ReadInput struct {
	Path   string `json:"path" jsonschema:"description=File path relative to the repository root"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line number to start reading from"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return (default 2000)"`
}

// WriteInput is the input of files.write.
type WriteInput struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the repository root"`
	Content string `json:"content" jsonschema:"description=Complete new content of the file"`
}

// ListInput is the input of files.list.
type ListInput struct {
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to list (default: repository root)"`
	Shallow bool   `json:"shallow,omitempty" jsonschema:"description=List direct children only"`
	Pattern string `json:"pattern,omitempty" jsonschema:"description=Glob matched against paths relative to the repository root e.g. **/*.go"`
}

// SearchInput is the input of files.search.
type SearchInput struct {
	Query string `json:"query" jsonschema:"description=Text or regular expression to search for"`
	Path  string `json:"path,omitempty" jsonschema:"description=Directory or file to search (default: repository root)"`
	Regex bool   `json:"regex,omitempty" jsonschema:"description=Treat query as a regular expression"`
}

func (t *FilesTool) Name() string { return "files" }

func (t *FilesTool) Description() string {
	return "Read, write, list and search files inside the repository"
}

func (t *FilesTool) Actions() []tooltypes.Action {
	return []tooltypes.Action{
		{
			Name:        "read",
			Description: "Read a file with line numbers. Use offset and limit to page through large files.",
			Schema:      GenerateSchema[ReadInput](),
			Handler:     t.read,
		},
		{
			Name:        "write",
			Description: "Create or replace a file and return a unified diff of the change.",
			Schema:      GenerateSchema[WriteInput](),
			Handler:     t.write,
			Mutates:     true,
		},
		{
			Name:        "list",
			Description: "List files and directories, skipping ignored paths.",
			Schema:      GenerateSchema[ListInput](),
			Handler:     t.list,
		},
		{
			Name:        "search",
			Description: fmt.Sprintf("Search file contents, skipping ignored paths. Returns at most %d matches.", MaxSearchResults),
			Schema:      GenerateSchema[SearchInput](),
			Handler:     t.search,
		},
	}
}

func (t *FilesTool) TracingKVs(action string, args json.RawMessage) []attribute.KeyValue {
	var probe struct {
		Path  string `json:"path"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &probe); err != nil {
		return nil
	}
	kvs := []attribute.KeyValue{attribute.String("file.path", probe.Path)}
	if action == "search" {
		kvs = append(kvs, attribute.String("search.query", probe.Query))
	}
	return kvs
}

func (t *FilesTool) read(_ context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[ReadInput](inv)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", errors.New("path is required")
	}
	sb, err := NewSandbox(inv.Safety.Root)
	if err != nil {
		return "", err
	}
	path, err := sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", in.Path)
	}
	if info.IsDir() {
		return "", errors.Errorf("%s is a directory", in.Path)
	}
	if info.Size() > MaxFileSize {
		return "", errors.Errorf("%s is larger than %d bytes", in.Path, MaxFileSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", in.Path)
	}
	defer f.Close()

	offset := max(in.Offset, 1)
	limit := in.Limit
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	var out strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxFileSize)
	lineNo, emitted := 0, 0
	for scanner.Scan() {
		lineNo++
		if lineNo < offset {
			continue
		}
		if emitted == limit {
			fmt.Fprintf(&out, "... [more lines after %d; continue with offset %d]\n", lineNo-1, lineNo)
			break
		}
		fmt.Fprintf(&out, "%6d: %s\n", lineNo, clip(scanner.Text()))
		emitted++
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrapf(err, "failed to read %s", in.Path)
	}
	if emitted == 0 && lineNo < offset && lineNo > 0 {
		return "", errors.Errorf("offset %d is beyond the end of %s (%d lines)", offset, in.Path, lineNo)
	}
	return out.String(), nil
}

func (t *FilesTool) write(_ context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[WriteInput](inv)
	if err != nil {
		return "", err
	}
	if in.Path == "" {
		return "", errors.New("path is required")
	}
	sb, err := NewSandbox(inv.Safety.Root)
	if err != nil {
		return "", err
	}
	path, err := sb.Resolve(in.Path)
	if err != nil {
		return "", err
	}
	rel := sb.Rel(path)

	var old []byte
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return "", errors.Errorf("%s is a directory", in.Path)
		}
		if old, err = lockedfile.Read(path); err != nil {
			return "", errors.Wrapf(err, "failed to read %s", rel)
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "failed to stat %s", rel)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directories of %s", rel)
	}
	if err := lockedfile.Write(path, strings.NewReader(in.Content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", rel)
	}

	if string(old) == in.Content {
		return fmt.Sprintf("%s is unchanged", rel), nil
	}
	diff := udiff.Unified("a/"+rel, "b/"+rel, string(old), in.Content)
	return fmt.Sprintf("wrote %d bytes to %s\n\n%s", len(in.Content), rel, diff), nil
}

func (t *FilesTool) list(_ context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[ListInput](inv)
	if err != nil {
		return "", err
	}
	sb, start, matcher, err := openTree(inv.Safety.Root, in.Path)
	if err != nil {
		return "", err
	}

	var pattern glob.Glob
	if in.Pattern != "" {
		if pattern, err = glob.Compile(in.Pattern, '/'); err != nil {
			return "", errors.Wrapf(err, "invalid pattern %q", in.Pattern)
		}
	}

	var lines []string
	truncated := false
	err = walkVisible(sb, start, matcher, func(rel string, d fs.DirEntry) error {
		lines = appendMatch(lines, pattern, rel, d.IsDir())
		if len(lines) >= MaxListEntries {
			truncated = true
			return fs.SkipAll
		}
		if in.Shallow && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "no entries", nil
	}
	out := strings.Join(lines, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (listing truncated at %d entries)", MaxListEntries)
	}
	return out, nil
}

func appendMatch(lines []string, pattern glob.Glob, rel string, isDir bool) []string {
	if pattern != nil && !pattern.Match(rel) {
		return lines
	}
	if isDir {
		rel += "/"
	}
	return append(lines, rel)
}

func (t *FilesTool) search(_ context.Context, inv tooltypes.Invocation) (string, error) {
	in, err := decodeArgs[SearchInput](inv)
	if err != nil {
		return "", err
	}
	if in.Query == "" {
		return "", errors.New("query is required")
	}
	match := func(line string) bool { return strings.Contains(line, in.Query) }
	if in.Regex {
		re, err := regexp.Compile(in.Query)
		if err != nil {
			return "", errors.Wrapf(err, "invalid regular expression %q", in.Query)
		}
		match = re.MatchString
	}

	sb, start, matcher, err := openTree(inv.Safety.Root, in.Path)
	if err != nil {
		return "", err
	}

	var results []string
	truncated := false
	err = walkVisible(sb, start, matcher, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		hits, err := searchFile(filepath.Join(sb.Root(), rel), match, MaxSearchResults-len(results))
		if err != nil {
			return nil
		}
		for _, h := range hits {
			results = append(results, fmt.Sprintf("%s:%d: %s", rel, h.line, h.text))
		}
		if len(results) >= MaxSearchResults {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("no matches for %q", in.Query), nil
	}
	out := strings.Join(results, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (results truncated at %d matches)", MaxSearchResults)
	}
	return out, nil
}

type hit struct {
	line int
	text string
}

func searchFile(path string, match func(string) bool, budget int) ([]hit, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > MaxFileSize || !info.Mode().IsRegular() {
		return nil, errors.New("skipped")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return nil, nil
	}

	var hits []hit
	for i, line := range strings.Split(string(data), "\n") {
		if len(hits) >= budget {
			break
		}
		if match(line) {
			hits = append(hits, hit{line: i + 1, text: clip(strings.TrimRight(line, "\r"))})
		}
	}
	return hits, nil
}

// openTree resolves the start path of a list or search and the ignore rules
// that apply to it: those of the root and its ancestors, plus every nested
// ignore file between the root and start.
func openTree(root, p string) (*Sandbox, string, *ignore.Matcher, error) {
	sb, err := NewSandbox(root)
	if err != nil {
		return nil, "", nil, err
	}
	if p == "" {
		p = "."
	}
	start, err := sb.Resolve(p)
	if err != nil {
		return nil, "", nil, err
	}
	info, err := os.Stat(start)
	if err != nil {
		return nil, "", nil, errors.Wrapf(err, "failed to stat %s", p)
	}
	matcher, err := ignore.Resolve(sb.Root())
	if err != nil {
		return nil, "", nil, err
	}

	dir := sb.Rel(start)
	if !info.IsDir() {
		dir = filepath.ToSlash(filepath.Dir(filepath.FromSlash(dir)))
	}
	if dir != "." && dir != "" {
		parts := strings.Split(dir, "/")
		for i := range parts {
			base := strings.Join(parts[:i+1], "/")
			if err := matcher.AddDir(filepath.Join(sb.Root(), filepath.FromSlash(base)), base); err != nil {
				return nil, "", nil, err
			}
		}
	}
	return sb, start, matcher, nil
}

// walkVisible walks start, calling fn with root-relative paths of every entry
// that is not ignored. Ignore files are picked up as directories are entered.
// Unreadable directories and symlinks leading outside the root are skipped.
func walkVisible(sb *Sandbox, start string, matcher *ignore.Matcher, fn func(rel string, d fs.DirEntry) error) error {
	err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == start {
				return errors.Wrapf(err, "failed to read %s", sb.Rel(path))
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == start && d.IsDir() {
			return nil
		}
		rel := sb.Rel(path)
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if _, err := sb.Resolve(rel); err != nil {
				return nil
			}
		}
		if d.IsDir() {
			if err := matcher.AddDir(path, rel); err != nil {
				return err
			}
		}
		return fn(rel, d)
	})
	return err
}

func clip(line string) string {
	if len(line) <= MaxLineLength {
		return line
	}
	return line[:MaxLineLength] + "... [truncated]"
}
