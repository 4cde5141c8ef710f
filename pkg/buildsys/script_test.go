package buildsys

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiztk/libskia/pkg"
)

func TestFindScript(t *testing.T) {
	root := t.TempDir()

	path, src, err := FindScript(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ScriptName), path)
	assert.Equal(t, DefaultScript, src)

	writeFile(t, filepath.Join(root, ScriptName), "def configure():\n    pass\n")
	path, src, err = FindScript(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ScriptName), path)
	assert.Nil(t, src, "project scripts are read by RunScript")
}

func defaultTasks(t *testing.T, explicit map[string]string) (context.Context, TaskList, string, *testOutput) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "third_party", "skia", "BUILD.gn"), "")

	ctx, out := testContext(t)
	tasks, err := Parse(ctx, filepath.Join(root, ScriptName), DefaultScript, root, nil, explicit)
	require.NoError(t, err)
	return ctx, tasks, root, out
}

func TestDefaultScriptTasks(t *testing.T) {
	_, tasks, root, _ := defaultTasks(t, nil)

	assert.Equal(t, []string{"build", "clean", "compdb", "gen", "package", "sync"}, tasks.Names())
	assert.Equal(t, []string{"sync"}, tasks["gen"].Deps)
	assert.Equal(t, []string{"gen"}, tasks["build"].Deps)
	assert.Equal(t, []string{"build"}, tasks["package"].Deps)

	skia := filepath.Join(root, "third_party", "skia")
	assert.Equal(t, skia, tasks["sync"].Base)
	assert.Equal(t, skia, tasks["gen"].Base)
	assert.Equal(t, skia, tasks["build"].Base)
	assert.Equal(t, root, tasks["package"].Base)

	path := tasks["build"].Env["PATH"]
	assert.Equal(t, filepath.Join(root, "third_party", "depot_tools"), filepath.SplitList(path)[0])
}

func TestDefaultScriptDryRun(t *testing.T) {
	ctx, tasks, root, out := defaultTasks(t, nil)
	require.NoError(t, RunTask(ctx, root, DefaultTask, tasks, true, false))

	libName := "libskia.a"
	if runtime.GOOS == "windows" {
		libName = "skia.lib"
	}
	pkgDir := "out/libskia-m63-" + pkg.HostArch()
	gnArgs := `is_debug=false cc="clang" cxx="clang++" is_official_build=true`

	assert.Equal(t, []string{
		"sync: python tools/git-sync-deps",
		"gen: bin/gn gen out/Release '--args=" + gnArgs + "'",
		"build: ninja -C out/Release",
		"package: rm -rf out",
		"package: mkdir -p " + pkgDir + "/lib",
		"package: cp third_party/skia/out/Release/" + libName + " " + pkgDir + "/lib",
		"package: cp -r third_party/skia/include " + pkgDir + "/include",
		"package: build-info " + pkgDir + "/BUILD_INFO.yml name=libskia version=m63 arch=" + pkg.HostArch() +
			" skia_revision= 'gn_args=" + gnArgs + "'",
		"package: pack " + pkgDir + ".tar.gz " + pkgDir,
	}, out.commands(t))

	// nothing was executed
	assert.NoDirExists(t, filepath.Join(root, "out"))
}

func TestDefaultScriptOptions(t *testing.T) {
	ctx, tasks, root, out := defaultTasks(t, map[string]string{
		"debug":     "true",
		"official":  "false",
		"cc":        "gcc",
		"cxx":       "g++",
		"ccache":    "ccache",
		"build_dir": "out/Debug",
		"version":   "m70",
		"arch":      "armv7",
		"format":    "tar.xz",
	})
	require.NoError(t, RunTask(ctx, root, "package", tasks, true, false))

	commands := out.commands(t)
	require.Len(t, commands, 9)
	assert.Equal(t, `gen: bin/gn gen out/Debug '--args=is_debug=true cc="gcc" cxx="g++" is_official_build=false cc_wrapper="ccache"'`, commands[1])
	assert.Equal(t, "package: pack out/libskia-m70-armv7.tar.xz out/libskia-m70-armv7", commands[8])
	assert.Equal(t, "Packages out/libskia-m70-armv7.tar.xz", tasks["package"].Desc)
}
