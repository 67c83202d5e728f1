// Package skills loads the catalog of reusable skill protocols. Each skill
// lives in its own directory as a SKILL.md file whose YAML frontmatter
// describes it and whose markdown body holds the full protocol.
//
// The catalog is rebuilt from disk on every LoadCatalog call; there is no
// cache to invalidate.
package skills

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// FileName is the canonical descriptor file name.
	FileName = "SKILL.md"
	// DefaultVersion is rendered when a descriptor declares none.
	DefaultVersion = "1.0.0"
)

// ErrSkillNotFound is returned when a lookup names no loaded skill.
var ErrSkillNotFound = errors.New("skill not found")

// topLevelTypes are offered to the model in the summary. Any other declared
// type marks an auxiliary sub-protocol.
var topLevelTypes = map[string]bool{
	"":          true,
	"skill":     true,
	"protocol":  true,
	"top-level": true,
	"toplevel":  true,
}

// Descriptor is one parsed SKILL.md.
type Descriptor struct {
	RelativePath     string         `json:"relativePath"`
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Type             string         `json:"type,omitempty"`
	Version          string         `json:"version,omitempty"`
	Tags             []string       `json:"tags"`
	DecisionTriggers []string       `json:"decisionTriggers,omitempty"`
	Parameters       map[string]any `json:"parameters"`
	Body             string         `json:"body"`
	RawFrontmatter   map[string]any `json:"rawFrontmatter"`
}

// IsTopLevel reports whether the descriptor may appear in the summary.
func (d *Descriptor) IsTopLevel() bool {
	return topLevelTypes[d.Type]
}

// DisplayVersion returns Version or DefaultVersion.
func (d *Descriptor) DisplayVersion() string {
	if d.Version == "" {
		return DefaultVersion
	}
	return d.Version
}

// Issue is a non-fatal problem found while loading; the unit it names was
// skipped or degraded.
type Issue struct {
	Path    string
	Message string
	Err     error
	// Superseded marks a valid descriptor dropped because an earlier path
	// already claimed its name.
	Superseded bool
}

func (i Issue) Error() string {
	if i.Err != nil {
		return fmt.Sprintf("%s: %s: %v", i.Path, i.Message, i.Err)
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// Issues collects every Issue of one load.
type Issues []Issue

// Err folds the issues into a single error, nil when empty.
func (is Issues) Err() error {
	var result *multierror.Error
	for _, i := range is {
		result = multierror.Append(result, i)
	}
	return result.ErrorOrNil()
}

// Invalid returns the issues that concern invalid files, leaving out valid
// descriptors dropped as duplicates.
func (is Issues) Invalid() Issues {
	var out Issues
	for _, i := range is {
		if !i.Superseded {
			out = append(out, i)
		}
	}
	return out
}

// Paths lists the path of every issue, in order.
func (is Issues) Paths() []string {
	paths := make([]string, 0, len(is))
	for _, i := range is {
		paths = append(paths, i.Path)
	}
	return paths
}

// Catalog is an ordered, name-indexed set of descriptors.
type Catalog struct {
	descriptors []*Descriptor
	byName      map[string]*Descriptor
}

// NewCatalog builds a catalog from descriptors in the given order. Later
// duplicates of a name are dropped.
func NewCatalog(descriptors ...*Descriptor) *Catalog {
	c := &Catalog{byName: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		c.add(d)
	}
	return c
}

func (c *Catalog) add(d *Descriptor) bool {
	if _, exists := c.byName[d.Name]; exists {
		return false
	}
	c.descriptors = append(c.descriptors, d)
	c.byName[d.Name] = d
	return true
}

// Len returns the number of descriptors, auxiliary ones included.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.descriptors)
}

// All returns the descriptors in catalog order.
func (c *Catalog) All() []*Descriptor {
	if c == nil {
		return nil
	}
	return append([]*Descriptor(nil), c.descriptors...)
}

// Get looks up a descriptor by name.
func (c *Catalog) Get(name string) (*Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	d, ok := c.byName[name]
	return d, ok
}

// Body returns the full protocol text of the named skill.
func (c *Catalog) Body(name string) (string, error) {
	d, ok := c.Get(name)
	if !ok {
		return "", errors.Wrapf(ErrSkillNotFound, "%q", name)
	}
	return d.Body, nil
}

// Names lists descriptor names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, c.Len())
	for _, d := range c.All() {
		names = append(names, d.Name)
	}
	return names
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
