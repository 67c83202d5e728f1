// Package sysprompt resolves system prompt templates and fills their
// {{name}} placeholders.
package sysprompt

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)
	templateIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ErrTemplateNotFound is returned when no source provides a template id.
var ErrTemplateNotFound = errors.New("template not found")

// Filler loads templates from an optional override directory, falling back
// to the embedded defaults.
type Filler struct {
	templates   fs.FS
	overrideDir string
}

// Option configures a Filler.
type Option func(*Filler)

// WithOverrideDir makes <dir>/<id>.md take precedence over embedded templates.
func WithOverrideDir(dir string) Option {
	return func(f *Filler) {
		f.overrideDir = dir
	}
}

// WithTemplateFS replaces the embedded template set; files are read from
// templates/<id>.md.
func WithTemplateFS(templates fs.FS) Option {
	return func(f *Filler) {
		f.templates = templates
	}
}

// NewFiller creates a Filler.
func NewFiller(opts ...Option) *Filler {
	f := &Filler{templates: TemplateFS}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load returns the raw text of template id.
func (f *Filler) Load(id string) (string, error) {
	if id == "" {
		id = DefaultTemplateID
	}
	if !templateIDPattern.MatchString(id) {
		return "", errors.Errorf("invalid template id %q", id)
	}

	if f.overrideDir != "" {
		content, err := os.ReadFile(filepath.Join(f.overrideDir, id+".md"))
		if err == nil {
			return string(content), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", errors.Wrapf(err, "failed to read template override %s", id)
		}
	}

	content, err := fs.ReadFile(f.templates, path.Join("templates", id+".md"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errors.Wrapf(ErrTemplateNotFound, "%q", id)
		}
		return "", errors.Wrapf(err, "failed to read template %s", id)
	}
	return string(content), nil
}

// Fill loads template id and substitutes values into it.
func (f *Filler) Fill(id string, values map[string]string) (string, error) {
	tmpl, err := f.Load(id)
	if err != nil {
		return "", err
	}
	return Render(tmpl, values), nil
}

// Render replaces every placeholder in tmpl. Unknown keys render as the empty
// string, and substituted values are not scanned again.
func Render(tmpl string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return values[name]
	})
}

// Placeholders lists the distinct placeholder names in tmpl, in order of
// first appearance.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
