package pkg

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMakeDirs(t *testing.T) {
	base := t.TempDir()

	require.Error(t, MakeDirs(base, []string{"a/b/c"}, false))
	require.NoError(t, MakeDirs(base, []string{"a/b/c", "d"}, true))
	assert.DirExists(t, filepath.Join(base, "a", "b", "c"))
	assert.DirExists(t, filepath.Join(base, "d"))

	// -p accepts existing directories, plain mkdir doesn't
	require.NoError(t, MakeDirs(base, []string{"d"}, true))
	require.Error(t, MakeDirs(base, []string{"d"}, false))
}

func TestRemove(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "dir", "file.txt"), "x")
	writeTestFile(t, filepath.Join(base, "single.txt"), "x")

	err := Remove(base, []string{"dir"}, false, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-r wasn't passed")
	assert.DirExists(t, filepath.Join(base, "dir"))

	require.Error(t, Remove(base, []string{"missing"}, true, false))
	require.NoError(t, Remove(base, []string{"missing", "single.txt"}, false, true))
	assert.NoFileExists(t, filepath.Join(base, "single.txt"))

	require.NoError(t, Remove(base, []string{"dir"}, true, false))
	assert.NoDirExists(t, filepath.Join(base, "dir"))
}

func TestMove(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "a.txt"), "a")
	writeTestFile(t, filepath.Join(base, "b.txt"), "b")
	require.NoError(t, MakeDirs(base, []string{"dest"}, false))

	require.NoError(t, Move(base, []string{"a.txt", "b.txt", "dest"}))
	assert.Equal(t, "a", readTestFile(t, filepath.Join(base, "dest", "a.txt")))
	assert.Equal(t, "b", readTestFile(t, filepath.Join(base, "dest", "b.txt")))
	assert.NoFileExists(t, filepath.Join(base, "a.txt"))

	require.Error(t, Move(base, []string{"dest"}))
}

func TestCopyFilePreservesModeAndTime(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "tool")
	writeTestFile(t, src, "#!/bin/sh\n")
	require.NoError(t, os.Chmod(src, 0755))
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dest := filepath.Join(base, "copy")
	require.NoError(t, CopyFile(src, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestCopy(t *testing.T) {
	base := t.TempDir()
	writeTestFile(t, filepath.Join(base, "include", "core", "SkCanvas.h"), "canvas")
	writeTestFile(t, filepath.Join(base, "include", "gpu", "GrContext.h"), "context")
	writeTestFile(t, filepath.Join(base, "libskia.a"), "lib")
	require.NoError(t, MakeDirs(base, []string{"pkg/lib"}, true))

	t.Run("file into directory", func(t *testing.T) {
		require.NoError(t, Copy(base, []string{"libskia.a", "pkg/lib"}, false))
		assert.Equal(t, "lib", readTestFile(t, filepath.Join(base, "pkg", "lib", "libskia.a")))
	})

	t.Run("tree to missing destination", func(t *testing.T) {
		require.NoError(t, Copy(base, []string{"include", "pkg/include"}, true))
		assert.Equal(t, "canvas", readTestFile(t, filepath.Join(base, "pkg", "include", "core", "SkCanvas.h")))
		assert.Equal(t, "context", readTestFile(t, filepath.Join(base, "pkg", "include", "gpu", "GrContext.h")))
	})

	t.Run("tree into existing directory", func(t *testing.T) {
		require.NoError(t, MakeDirs(base, []string{"other"}, false))
		require.NoError(t, Copy(base, []string{"include", "other"}, true))
		assert.FileExists(t, filepath.Join(base, "other", "include", "core", "SkCanvas.h"))
	})

	t.Run("directory without -r", func(t *testing.T) {
		err := Copy(base, []string{"include", "elsewhere"}, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "-r wasn't passed")
	})

	t.Run("multiple sources need a directory", func(t *testing.T) {
		err := Copy(base, []string{"libskia.a", "libskia.a", "new.a"}, false)
		require.Error(t, err)
	})

	t.Run("absolute paths ignore the base", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "abs.a")
		require.NoError(t, Copy(base, []string{filepath.Join(base, "libskia.a"), dest}, false))
		assert.Equal(t, "lib", readTestFile(t, dest))
	})
}
