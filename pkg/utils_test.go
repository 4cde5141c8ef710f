package pkg

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "third_party", "skia", "src", "core"), 0755))

	// symlinked temp dirs (macOS) would otherwise break the comparison
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	found, err := GetProjectRoot(filepath.Join(root, "third_party", "skia", "src", "core"))
	require.NoError(t, err)
	// third_party/skia itself doesn't contain a marker so the walk stops at the project root
	assert.Equal(t, root, found)

	found, err = GetProjectRoot(root)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestGetProjectRootPrefersNearestMarker(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "nested")
	writeTestFile(t, filepath.Join(root, "build.star"), "")
	writeTestFile(t, filepath.Join(nested, "build.star"), "")

	found, err := GetProjectRoot(filepath.Join(nested))
	require.NoError(t, err)
	assert.Equal(t, nested, found)
}

func TestHostArch(t *testing.T) {
	arch := HostArch()
	require.NotEmpty(t, arch)

	switch runtime.GOARCH {
	case "amd64":
		assert.Equal(t, "x86_64", arch)
	case "arm64":
		assert.Equal(t, "aarch64", arch)
	case "386":
		assert.Equal(t, "i686", arch)
	default:
		assert.Equal(t, runtime.GOARCH, arch)
	}
}
