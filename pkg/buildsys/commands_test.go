package buildsys

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiztk/libskia/pkg"
)

func TestIsInprocCommand(t *testing.T) {
	for _, name := range []string{"rm", "mv", "mkdir", "cp", "pack", "build-info"} {
		assert.True(t, IsInprocCommand(name), name)
	}
	assert.False(t, IsInprocCommand("ninja"))
}

func TestInprocPackaging(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "build", "libskia.a"), "lib")
	writeFile(t, filepath.Join(root, "include", "core", "SkCanvas.h"), "canvas")
	writeFile(t, filepath.Join(root, "dist", "stale.txt"), "stale")

	ctx, _ := testContext(t)
	tasks := loadTasks(t, ctx, root, `
def configure():
    task(
        short = "package",
        cmds = [
            ("rm", "-rf", "dist"),
            ("mkdir", "-p", "dist/pkg-1-x86_64/lib"),
            ("cp", "build/libskia.a", "dist/pkg-1-x86_64/lib"),
            ("cp", "-r", "include", "dist/pkg-1-x86_64/include"),
            ("build-info", "dist/pkg-1-x86_64/BUILD_INFO.yml", "name=pkg", "gn_args=cc=\"clang\" is_debug=false"),
            ("mv", "dist/pkg-1-x86_64/BUILD_INFO.yml", "dist/pkg-1-x86_64/info.yml"),
            ("pack", "dist/pkg-1-x86_64.tar.gz", "dist/pkg-1-x86_64"),
        ],
    )
`, nil)

	require.NoError(t, RunTask(ctx, root, "package", tasks, false, false))
	assert.NoFileExists(t, filepath.Join(root, "dist", "stale.txt"))

	info, err := pkg.ReadBuildInfo(filepath.Join(root, "dist", "pkg-1-x86_64", "info.yml"))
	require.NoError(t, err)
	assert.Equal(t, `cc="clang" is_debug=false`, info["gn_args"])

	f, err := os.Open(filepath.Join(root, "dist", "pkg-1-x86_64.tar.gz"))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	names := []string{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}

	assert.Equal(t, []string{
		"pkg-1-x86_64/",
		"pkg-1-x86_64/include/",
		"pkg-1-x86_64/include/core/",
		"pkg-1-x86_64/include/core/SkCanvas.h",
		"pkg-1-x86_64/info.yml",
		"pkg-1-x86_64/lib/",
		"pkg-1-x86_64/lib/libskia.a",
	}, names)
}

func TestInprocCommandFailure(t *testing.T) {
	root := t.TempDir()
	ctx, out := testContext(t)
	tasks := loadTasks(t, ctx, root, `
def configure():
    task(short = "dir", cmds = [("mkdir", "missing/child")])
    task(short = "flag", cmds = [("rm", "--bogus", "x")])
    task(short = "args", cmds = [("pack", "only-one")])
    task(short = "pair", cmds = [("build-info", "info.yml", "broken")])
`, nil)

	for _, name := range []string{"dir", "flag", "args", "pair"} {
		err := RunTask(ctx, root, name, tasks, false, false)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "Task "+name+" failed running", name)
	}

	assert.Contains(t, out.stderr.String(), "mkdir: ")
	assert.Contains(t, out.stderr.String(), "rm: ")
	assert.Contains(t, out.stderr.String(), "pack: expected at least 2 arguments")
	assert.Contains(t, out.stderr.String(), "build-info: ")
}
