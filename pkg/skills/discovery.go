package skills

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jingkaihe/keel/pkg/logger"
)

// skippedDirs are never descended into while scanning for descriptors.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// LoadCatalog scans root recursively for SKILL.md files and returns every
// valid descriptor ordered by relative path. Problems never abort the scan:
// each is returned as an Issue and logged as a warning.
func LoadCatalog(ctx context.Context, root string) (*Catalog, Issues) {
	var issues Issues
	var paths []string

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				issues = append(issues, Issue{Path: root, Message: "skill root is not readable", Err: err})
				return err
			}
			issues = append(issues, Issue{Path: relative(root, path), Message: "skipping unreadable path", Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == FileName {
			paths = append(paths, path)
		}
		return nil
	})

	sort.Slice(paths, func(i, j int) bool {
		return relative(root, paths[i]) < relative(root, paths[j])
	})

	catalog := NewCatalog()
	for _, path := range paths {
		rel := relative(root, path)
		content, err := os.ReadFile(path)
		if err != nil {
			issues = append(issues, Issue{Path: rel, Message: "failed to read descriptor", Err: err})
			continue
		}

		d, parseIssues := Parse(rel, content)
		issues = append(issues, parseIssues...)
		if d == nil {
			continue
		}
		if !catalog.add(d) {
			first, _ := catalog.Get(d.Name)
			issues = append(issues, Issue{
				Path:       rel,
				Message:    "valid descriptor superseded: skill name " + d.Name + " is already defined by " + first.RelativePath,
				Superseded: true,
			})
		}
	}

	log := logger.G(ctx)
	for _, issue := range issues {
		log.WithField("path", issue.Path).WithError(issue.Err).Warn(issue.Message)
	}
	log.WithField("root", root).WithField("skills", catalog.Len()).Debug("loaded skill catalog")

	return catalog, issues
}

func relative(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
