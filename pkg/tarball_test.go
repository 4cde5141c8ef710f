package pkg

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
}

func makePackageTree(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	writeTestFile(t, filepath.Join(dir, "lib", "libskia.a"), "archive")
	writeTestFile(t, filepath.Join(dir, "include", "core", "SkCanvas.h"), "#pragma once\n")
	writeTestFile(t, filepath.Join(dir, "BUILD_INFO.yml"), "name: libskia\n")
	return dir
}

// readTarball returns the entry names and regular file contents of an archive written by PackDirectory
func readTarball(t *testing.T, filename string) ([]string, map[string]string) {
	t.Helper()
	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(filename, ".tar.gz"):
		gz, err := gzip.NewReader(f)
		require.NoError(t, err)
		defer gz.Close()
		r = gz
	case strings.HasSuffix(filename, ".tar.xz"):
		r, err = xz.NewReader(f)
		require.NoError(t, err)
	case strings.HasSuffix(filename, ".tar.br"):
		r = brotli.NewReader(f)
	default:
		t.Fatalf("unexpected archive %s", filename)
	}

	names := []string{}
	contents := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := ioutil.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(data)
		}
	}

	return names, contents
}

func TestPackDirectorySingleTopLevelFolder(t *testing.T) {
	for _, format := range ArchiveFormats {
		format := format
		t.Run(format, func(t *testing.T) {
			tmp := t.TempDir()
			dir := makePackageTree(t, tmp, "libskia-m63-x86_64")
			archive := filepath.Join(tmp, "libskia-m63-x86_64."+format)

			require.NoError(t, PackDirectory(archive, dir))

			names, contents := readTarball(t, archive)
			assert.Equal(t, []string{
				"libskia-m63-x86_64/",
				"libskia-m63-x86_64/BUILD_INFO.yml",
				"libskia-m63-x86_64/include/",
				"libskia-m63-x86_64/include/core/",
				"libskia-m63-x86_64/include/core/SkCanvas.h",
				"libskia-m63-x86_64/lib/",
				"libskia-m63-x86_64/lib/libskia.a",
			}, names)
			assert.Equal(t, "archive", contents["libskia-m63-x86_64/lib/libskia.a"])
			assert.Equal(t, "#pragma once\n", contents["libskia-m63-x86_64/include/core/SkCanvas.h"])
		})
	}
}

func TestPackDirectoryTrailingSlash(t *testing.T) {
	tmp := t.TempDir()
	dir := makePackageTree(t, tmp, "pkg-1-arm")
	archive := filepath.Join(tmp, "out.tar.gz")

	require.NoError(t, PackDirectory(archive, dir+string(filepath.Separator)))

	names, _ := readTarball(t, archive)
	require.NotEmpty(t, names)
	for _, name := range names {
		assert.True(t, strings.HasPrefix(name, "pkg-1-arm/"), name)
	}
}

func TestPackDirectoryErrors(t *testing.T) {
	tmp := t.TempDir()
	dir := makePackageTree(t, tmp, "pkg")

	t.Run("unsupported format", func(t *testing.T) {
		archive := filepath.Join(tmp, "pkg.zip")
		err := PackDirectory(archive, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not supported")
		assert.NoFileExists(t, archive)
	})

	t.Run("missing directory", func(t *testing.T) {
		err := PackDirectory(filepath.Join(tmp, "x.tar.gz"), filepath.Join(tmp, "missing"))
		require.Error(t, err)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		err := PackDirectory(filepath.Join(tmp, "x.tar.gz"), filepath.Join(dir, "BUILD_INFO.yml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	})
}

func TestTarWriterOpenDirectories(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "test.tar.gz")
	w, err := NewTarWriter(archive)
	require.NoError(t, err)

	info, err := os.Stat(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.OpenDirectory("top", info))
	err = w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Open directories")

	w, err = NewTarWriter(archive)
	require.NoError(t, err)
	require.Error(t, w.CloseDirectory())
	require.NoError(t, w.Close())
}

func TestPackDirectoryIsReproducible(t *testing.T) {
	tmp := t.TempDir()
	dir := makePackageTree(t, tmp, "libskia-m63-x86_64")

	stamp := time.Date(2017, 10, 18, 12, 0, 0, 0, time.UTC)
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chtimes(path, stamp, stamp)
	}))

	first := filepath.Join(tmp, "first.tar.gz")
	second := filepath.Join(tmp, "second.tar.gz")
	require.NoError(t, PackDirectory(first, dir))
	require.NoError(t, PackDirectory(second, dir))

	firstData, err := ioutil.ReadFile(first)
	require.NoError(t, err)
	secondData, err := ioutil.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, firstData, secondData)

	f, err := os.Open(first)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.True(t, stamp.Equal(hdr.ModTime), "%s has mtime %s", hdr.Name, hdr.ModTime)
	}
}
