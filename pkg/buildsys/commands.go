package buildsys

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"

	"github.com/wiztk/libskia/pkg"
)

type inprocCommand func(dir string, flags *pflag.FlagSet) error

type inprocSpec struct {
	minArgs int
	flags   func(*pflag.FlagSet)
	run     inprocCommand
}

// inprocCommands are executed inside the tool instead of spawning a process. This keeps the packaging tasks
// working on systems without a POSIX userland.
var inprocCommands = map[string]inprocSpec{
	"rm": {
		minArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.BoolP("recursive", "r", false, "")
			fs.BoolP("force", "f", false, "")
		},
		run: func(dir string, fs *pflag.FlagSet) error {
			recursive, _ := fs.GetBool("recursive")
			force, _ := fs.GetBool("force")
			return pkg.Remove(dir, fs.Args(), recursive, force)
		},
	},
	"mv": {
		minArgs: 2,
		run: func(dir string, fs *pflag.FlagSet) error {
			return pkg.Move(dir, fs.Args())
		},
	},
	"mkdir": {
		minArgs: 1,
		flags: func(fs *pflag.FlagSet) {
			fs.BoolP("parents", "p", false, "")
		},
		run: func(dir string, fs *pflag.FlagSet) error {
			parents, _ := fs.GetBool("parents")
			return pkg.MakeDirs(dir, fs.Args(), parents)
		},
	},
	"cp": {
		minArgs: 2,
		flags: func(fs *pflag.FlagSet) {
			fs.BoolP("recursive", "r", false, "")
		},
		run: func(dir string, fs *pflag.FlagSet) error {
			recursive, _ := fs.GetBool("recursive")
			return pkg.Copy(dir, fs.Args(), recursive)
		},
	},
	"pack": {
		minArgs: 2,
		run: func(dir string, fs *pflag.FlagSet) error {
			if fs.NArg() != 2 {
				return eris.Errorf("expected an archive name and a directory but got %d arguments", fs.NArg())
			}
			return pkg.PackDirectory(resolveArg(dir, fs.Arg(0)), resolveArg(dir, fs.Arg(1)))
		},
	},
	"build-info": {
		minArgs: 1,
		run: func(dir string, fs *pflag.FlagSet) error {
			return pkg.WriteBuildInfo(resolveArg(dir, fs.Arg(0)), fs.Args()[1:])
		},
	},
}

func resolveArg(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// IsInprocCommand reports whether name is handled inside the tool
func IsInprocCommand(name string) bool {
	_, ok := inprocCommands[name]
	return ok
}

// runInprocCommand executes args[0] in-process. Failures are reported on the shell's stderr and turned into a
// non-zero exit status so they behave like any other failing command.
func runInprocCommand(ctx context.Context, args []string) error {
	spec := inprocCommands[args[0]]
	hc := interp.HandlerCtx(ctx)

	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(hc.Stderr)
	if spec.flags != nil {
		spec.flags(fs)
	}

	err := fs.Parse(args[1:])
	if err == nil && fs.NArg() < spec.minArgs {
		err = eris.Errorf("expected at least %d arguments but got %d", spec.minArgs, fs.NArg())
	}
	if err == nil {
		err = spec.run(hc.Dir, fs)
	}

	if err != nil {
		fmt.Fprintf(hc.Stderr, "%s: %s\n", args[0], err.Error())
		return interp.NewExitStatus(1)
	}

	return nil
}
