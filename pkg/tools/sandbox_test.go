package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxResolve(t *testing.T) {
	root := t.TempDir()
	sb, err := NewSandbox(root)
	require.NoError(t, err)

	ok := []struct {
		in   string
		want string
	}{
		{"", sb.Root()},
		{".", sb.Root()},
		{"a/b.txt", filepath.Join(sb.Root(), "a", "b.txt")},
		{"a/../b.txt", filepath.Join(sb.Root(), "b.txt")},
		{filepath.Join(sb.Root(), "c.txt"), filepath.Join(sb.Root(), "c.txt")},
	}
	for _, tt := range ok {
		got, err := sb.Resolve(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	escapes := []string{
		"..",
		"../outside.txt",
		"a/../../outside.txt",
		"/etc/passwd",
		filepath.Dir(sb.Root()),
		sb.Root() + "-sibling/file",
	}
	for _, p := range escapes {
		_, err := sb.Resolve(p)
		assert.ErrorIs(t, err, ErrPathEscape, p)
	}
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	sb, err := NewSandbox(root)
	require.NoError(t, err)

	_, err = sb.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestNewSandboxErrors(t *testing.T) {
	_, err := NewSandbox("")
	assert.Error(t, err)

	_, err = NewSandbox(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewSandbox(file)
	assert.Error(t, err)
}
