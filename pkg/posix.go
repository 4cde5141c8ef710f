package pkg

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
)

func resolveItem(base, item string) string {
	if filepath.IsAbs(item) || base == "" {
		return filepath.Clean(item)
	}
	return filepath.Join(base, item)
}

// expandItems resolves items relative to base. On Windows the shell doesn't expand globs for us so we do it here.
func expandItems(base string, args []string, allowMissing bool) ([]string, error) {
	items := make([]string, 0, len(args))
	for _, arg := range args {
		arg = resolveItem(base, arg)
		if runtime.GOOS != "windows" {
			items = append(items, arg)
			continue
		}

		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil {
			if allowMissing {
				continue
			}
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// Move implements mv: the last argument is the destination, every other argument is moved into it.
func Move(base string, args []string) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := resolveItem(base, args[len(args)-1])
	destParent := filepath.Dir(dest)
	info, err := os.Stat(destParent)
	if err != nil {
		return eris.Wrapf(err, "Could not find destination directory %s", destParent)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory!", destParent)
	}

	destIsDir := false
	info, err = os.Stat(dest)
	if err != nil && !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}
	if err == nil {
		destIsDir = info.IsDir()
	}

	if len(args) > 2 && !destIsDir {
		return eris.Errorf("Can't move multiple items to %s because it is not a directory!", dest)
	}

	items, err := expandItems(base, args[:len(args)-1], false)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		err = os.Rename(item, itemDest)
		if err != nil {
			return eris.Wrapf(err, "Failed to move %s to %s", item, itemDest)
		}
	}

	return nil
}

// Remove implements rm. Directories require recursive, force ignores missing items.
func Remove(base string, args []string, recursive, force bool) error {
	items, err := expandItems(base, args, force)
	if err != nil {
		return err
	}

	existing := make([]string, 0, len(items))
	for _, item := range items {
		info, err := os.Lstat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
		existing = append(existing, item)
	}

	for _, item := range existing {
		err := os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

// MakeDirs implements mkdir
func MakeDirs(base string, args []string, parents bool) error {
	for _, item := range args {
		item = resolveItem(base, item)

		var err error
		if parents {
			err = os.MkdirAll(item, 0755)
		} else {
			err = os.Mkdir(item, 0755)
		}

		if err != nil {
			return eris.Wrapf(err, "Failed to create %s", item)
		}
	}

	return nil
}

// Copy implements cp. If the destination is an existing directory, sources are copied into it. Otherwise the
// single source is copied to the destination path, which for a directory copies its whole tree there.
func Copy(base string, args []string, recursive bool) error {
	if len(args) < 2 {
		return eris.New("Not enough parameters")
	}

	dest := resolveItem(base, args[len(args)-1])
	items, err := expandItems(base, args[:len(args)-1], false)
	if err != nil {
		return err
	}

	destIsDir := false
	info, err := os.Stat(dest)
	if err == nil {
		destIsDir = info.IsDir()
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to retrieve info about destination %s", dest)
	}

	if len(items) > 1 && !destIsDir {
		return eris.Errorf("Can't copy multiple items to %s because it is not a directory!", dest)
	}

	for _, item := range items {
		itemDest := dest
		if destIsDir {
			itemDest = filepath.Join(dest, filepath.Base(item))
		}

		info, err := os.Stat(item)
		if err != nil {
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() {
			if !recursive {
				return eris.Errorf("%s is a directory but -r wasn't passed", item)
			}
			err = CopyTree(item, itemDest)
		} else {
			err = CopyFile(item, itemDest)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// CopyFile copies a single regular file and preserves its permissions and modification time
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "Failed to open %s", src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return eris.Wrapf(err, "Could not stat %s", src)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return eris.Wrapf(err, "Failed to create %s", dest)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "Failed to copy %s to %s", src, dest)
	}

	err = out.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", dest)
	}

	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

// CopyTree copies the contents of src into dest, creating dest if necessary
func CopyTree(src, dest string) error {
	return filepath.Walk(src, func(item string, info os.FileInfo, err error) error {
		if err != nil {
			return eris.Wrapf(err, "Failed to walk %s", item)
		}

		rel, err := filepath.Rel(src, item)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.IsDir():
			err = os.MkdirAll(target, info.Mode().Perm()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to create %s", target)
			}
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(item)
			if err != nil {
				return eris.Wrapf(err, "Failed to read link %s", item)
			}

			err = os.Symlink(link, target)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s", target)
			}
		default:
			return CopyFile(item, target)
		}

		return nil
	})
}
