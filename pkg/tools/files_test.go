package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tooltypes "github.com/jingkaihe/keel/pkg/types/tools"
)

func dispatchFiles(t *testing.T, root, action string, args any, readOnly bool) tooltypes.Result {
	t.Helper()
	r, err := NewRegistry(&FilesTool{})
	require.NoError(t, err)
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), tooltypes.Invocation{
		Tool:   "files",
		Action: action,
		Args:   raw,
		Safety: tooltypes.SafetyContext{Root: root, ReadOnly: readOnly},
	})
}

func TestFilesRead(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"notes.txt": "one\ntwo\nthree\nfour\n"})

	res := dispatchFiles(t, root, "read", ReadInput{Path: "notes.txt"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "     1: one\n     2: two\n     3: three\n     4: four\n", res.Output)

	res = dispatchFiles(t, root, "read", ReadInput{Path: "notes.txt", Offset: 2, Limit: 2}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "     2: two\n     3: three\n... [more lines after 3; continue with offset 4]\n", res.Output)

	res = dispatchFiles(t, root, "read", ReadInput{Path: "missing.txt"}, false)
	assert.False(t, res.Success)

	res = dispatchFiles(t, root, "read", ReadInput{Path: "notes.txt", Offset: 50}, false)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "beyond the end")
}

func TestFilesWrite(t *testing.T) {
	root := t.TempDir()

	res := dispatchFiles(t, root, "write", WriteInput{Path: "pkg/new/file.go", Content: "package new\n"}, false)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "+package new")
	content, err := os.ReadFile(filepath.Join(root, "pkg", "new", "file.go"))
	require.NoError(t, err)
	assert.Equal(t, "package new\n", string(content))

	res = dispatchFiles(t, root, "write", WriteInput{Path: "pkg/new/file.go", Content: "package renamed\n"}, false)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "-package new")
	assert.Contains(t, res.Output, "+package renamed")

	res = dispatchFiles(t, root, "write", WriteInput{Path: "pkg/new/file.go", Content: "package renamed\n"}, false)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "unchanged")
}

func TestFilesRejectsEscapeWithoutSideEffects(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "repo")
	writeFiles(t, root, map[string]string{"keep.txt": "x"})
	before := snapshot(t, parent)

	for _, p := range []string{"../evil.txt", "../../evil.txt", "/tmp/evil-" + filepath.Base(parent), "sub/../../evil.txt"} {
		res := dispatchFiles(t, root, "write", WriteInput{Path: p, Content: "pwned"}, false)
		assert.False(t, res.Success, p)
		assert.Contains(t, res.Error, "escapes", p)

		res = dispatchFiles(t, root, "read", ReadInput{Path: p}, false)
		assert.False(t, res.Success, p)
	}

	assert.Equal(t, before, snapshot(t, parent))
	_, err := os.Stat("/tmp/evil-" + filepath.Base(parent))
	assert.True(t, os.IsNotExist(err))
}

func TestFilesWriteReadOnly(t *testing.T) {
	root := t.TempDir()
	res := dispatchFiles(t, root, "write", WriteInput{Path: "a.txt", Content: "x"}, true)
	assert.False(t, res.Success)
	_, err := os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestFilesList(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":        "build/\n*.secret\n",
		"main.go":           "package main",
		"pkg/a/a.go":        "package a",
		"pkg/a/a_test.go":   "package a",
		"pkg/b.secret":      "shh",
		"build/out.bin":     "bin",
		"node_modules/x.js": "x",
		"docs/readme.md":    "docs",
	})

	res := dispatchFiles(t, root, "list", ListInput{}, false)
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	assert.Contains(t, lines, "main.go")
	assert.Contains(t, lines, "pkg/")
	assert.Contains(t, lines, "pkg/a/a.go")
	assert.NotContains(t, res.Output, "build")
	assert.NotContains(t, res.Output, "b.secret")
	assert.NotContains(t, res.Output, "node_modules")

	res = dispatchFiles(t, root, "list", ListInput{Shallow: true}, false)
	require.True(t, res.Success, res.Error)
	assert.ElementsMatch(t, []string{".gitignore", "docs/", "main.go", "pkg/"}, strings.Split(res.Output, "\n"))

	res = dispatchFiles(t, root, "list", ListInput{Pattern: "**/*_test.go"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "pkg/a/a_test.go", res.Output)

	res = dispatchFiles(t, root, "list", ListInput{Path: "pkg", Shallow: true}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "pkg/a/", res.Output)

	res = dispatchFiles(t, root, "list", ListInput{Path: ".."}, false)
	assert.False(t, res.Success)
}

func TestFilesSearch(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".keelignore":    "generated/\n",
		"a.go":           "package a\n// TODO: first\n",
		"b/b.go":         "package b\nfunc TODO() {}\n",
		"generated/z.go": "// TODO: hidden\n",
		"debug.log":      "TODO in a log\n",
	})

	res := dispatchFiles(t, root, "search", SearchInput{Query: "TODO"}, false)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "a.go:2: // TODO: first")
	assert.Contains(t, res.Output, "b/b.go:2: func TODO() {}")
	assert.NotContains(t, res.Output, "hidden")
	assert.NotContains(t, res.Output, "debug.log")

	res = dispatchFiles(t, root, "search", SearchInput{Query: `^func \w+\(`, Regex: true}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "b/b.go:2: func TODO() {}", res.Output)

	res = dispatchFiles(t, root, "search", SearchInput{Query: "("}, false)
	require.True(t, res.Success, res.Error)

	res = dispatchFiles(t, root, "search", SearchInput{Query: "(", Regex: true}, false)
	assert.False(t, res.Success)

	res = dispatchFiles(t, root, "search", SearchInput{Query: "nothing-matches-this"}, false)
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "no matches")
}

func TestFilesSearchBounded(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"big.txt": strings.Repeat("needle\n", MaxSearchResults+50)})

	res := dispatchFiles(t, root, "search", SearchInput{Query: "needle"}, false)
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	assert.Len(t, lines, MaxSearchResults+1)
	assert.Contains(t, lines[len(lines)-1], "truncated")
}

func TestFilesSearchSkipsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFiles(t, outside, map[string]string{"secret.txt": "TOPSECRET-data\n"})
	writeFiles(t, root, map[string]string{"real.txt": "TOPSECRET-local\n"})
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "alias.txt")))

	res := dispatchFiles(t, root, "read", ReadInput{Path: "link.txt"}, false)
	assert.False(t, res.Success)

	res = dispatchFiles(t, root, "search", SearchInput{Query: "TOPSECRET"}, false)
	require.True(t, res.Success, res.Error)
	assert.NotContains(t, res.Output, "TOPSECRET-data")
	assert.NotContains(t, res.Output, "link.txt")
	assert.Contains(t, res.Output, "real.txt:1: TOPSECRET-local")
	assert.Contains(t, res.Output, "alias.txt:1: TOPSECRET-local")

	res = dispatchFiles(t, root, "list", ListInput{}, false)
	require.True(t, res.Success, res.Error)
	assert.NotContains(t, res.Output, "link.txt")
}

func TestFilesListHonoursNestedIgnoreFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"hidden.txt":           "top",
		"sub/.gitignore":       "hidden.txt\n",
		"sub/hidden.txt":       "nested",
		"sub/shown.txt":        "shown",
		"sub/deep/hidden.txt":  "deeper",
		"sub/deep/.keelignore": "*.tmpl\n",
		"sub/deep/page.tmpl":   "tmpl",
	})

	res := dispatchFiles(t, root, "list", ListInput{Path: "sub"}, false)
	require.True(t, res.Success, res.Error)
	assert.ElementsMatch(t, []string{"sub/.gitignore", "sub/shown.txt", "sub/deep/", "sub/deep/.keelignore"},
		strings.Split(res.Output, "\n"))

	res = dispatchFiles(t, root, "list", ListInput{Path: "sub/deep"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "sub/deep/.keelignore", res.Output)

	res = dispatchFiles(t, root, "list", ListInput{}, false)
	require.True(t, res.Success, res.Error)
	lines := strings.Split(res.Output, "\n")
	assert.Contains(t, lines, "hidden.txt")
	assert.NotContains(t, lines, "sub/hidden.txt")

	res = dispatchFiles(t, root, "search", SearchInput{Query: "nested", Path: "sub"}, false)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.Output, "no matches")
}
