package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathSandboxed(t *testing.T) {
	workdir := t.TempDir()
	tc := &ToolContext{Workdir: workdir, Sandboxed: true, AllowedPaths: []string{"."}}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative inside", "src/main.go", false},
		{"dot", ".", false},
		{"absolute inside", filepath.Join(workdir, "a.txt"), false},
		{"parent escape", "../outside.txt", true},
		{"nested escape", "src/../../outside.txt", true},
		{"absolute outside", "/etc/passwd", true},
		{"empty", "", true},
		{"sneaky dotdot", "a/../../..", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := tc.ResolvePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(resolved))
		})
	}
}

func TestResolvePathUnsandboxed(t *testing.T) {
	tc := &ToolContext{Workdir: t.TempDir(), Sandboxed: false, AllowedPaths: []string{"/"}}

	resolved, err := tc.ResolvePath("/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", resolved)

	resolved, err = tc.ResolvePath("../sibling.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestFromContextDefault(t *testing.T) {
	tc := FromContext(context.Background())
	require.NotNil(t, tc)
	assert.False(t, tc.Sandboxed)

	custom := &ToolContext{SessionID: "s1", Workdir: "/tmp"}
	ctx := WithToolContext(context.Background(), custom)
	assert.Same(t, custom, FromContext(ctx))
}

func TestRelReporting(t *testing.T) {
	workdir := t.TempDir()
	tc := &ToolContext{Workdir: workdir}

	assert.Equal(t, "a/b.txt", tc.Rel(filepath.Join(workdir, "a", "b.txt")))
	// Paths outside workdir stay absolute.
	assert.Equal(t, "/etc/hosts", tc.Rel("/etc/hosts"))
}
