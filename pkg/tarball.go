package pkg

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"
)

// ArchiveFormats lists the supported package formats by file extension
var ArchiveFormats = []string{"tar.gz", "tar.xz", "tar.br"}

// TarWriter writes compressed tarballs. Its interface mirrors a directory walk: entries created between
// OpenDirectory() and CloseDirectory() end up inside that directory.
type TarWriter struct {
	hdl      *os.File
	comp     io.WriteCloser
	tw       *tar.Writer
	dirStack []string
	buffer   []byte
}

func newCompressor(filename string, w io.Writer) (io.WriteCloser, error) {
	switch {
	case strings.HasSuffix(filename, ".tar.gz") || strings.HasSuffix(filename, ".tgz"):
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case strings.HasSuffix(filename, ".tar.xz"):
		return xz.NewWriter(w)
	case strings.HasSuffix(filename, ".tar.br"):
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	}

	return nil, eris.Errorf("Archive format of %s not supported (expected one of %s)", filename, strings.Join(ArchiveFormats, ", "))
}

// NewTarWriter creates a new TarWriter instance and opens it for writing
func NewTarWriter(filename string) (*TarWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", filename)
	}

	comp, err := newCompressor(filename, hdl)
	if err != nil {
		hdl.Close()
		os.Remove(filename)
		return nil, err
	}

	return &TarWriter{
		hdl:      hdl,
		comp:     comp,
		tw:       tar.NewWriter(comp),
		dirStack: make([]string, 0),
		buffer:   make([]byte, 32*1024),
	}, nil
}

func (w *TarWriter) entryName(name string) string {
	return path.Join(append(w.dirStack, name)...)
}

// OpenDirectory creates a new directory entry. Anything created until the next CloseDirectory() call will be created
// inside this directory. Mode and modification time are taken from info.
func (w *TarWriter) OpenDirectory(dirname string, info os.FileInfo) error {
	err := w.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     w.entryName(dirname) + "/",
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	})
	if err != nil {
		return eris.Wrapf(err, "Failed to write directory entry %s", dirname)
	}

	w.dirStack = append(w.dirStack, dirname)
	return nil
}

// CloseDirectory closes the directory that was last opened
func (w *TarWriter) CloseDirectory() error {
	if len(w.dirStack) < 1 {
		return eris.New("No directory left on stack")
	}

	w.dirStack = w.dirStack[:len(w.dirStack)-1]
	return nil
}

// WriteFile creates a new file in the current archive directory
func (w *TarWriter) WriteFile(filename string, info os.FileInfo, reader io.Reader) error {
	err := w.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     w.entryName(filename),
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	})
	if err != nil {
		return eris.Wrapf(err, "Failed to write header for %s", filename)
	}

	_, err = io.CopyBuffer(w.tw, reader, w.buffer)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", filename)
	}

	return nil
}

// WriteSymlink creates a symlink entry in the current archive directory
func (w *TarWriter) WriteSymlink(filename, target string, info os.FileInfo) error {
	err := w.tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeSymlink,
		Name:     w.entryName(filename),
		Linkname: target,
		Mode:     0777,
		ModTime:  info.ModTime(),
	})
	if err != nil {
		return eris.Wrapf(err, "Failed to write symlink %s", filename)
	}
	return nil
}

// Close flushes the tar stream and compressor and closes the archive
func (w *TarWriter) Close() error {
	if len(w.dirStack) != 0 {
		w.hdl.Close()
		return eris.New("Open directories left over!")
	}

	err := w.tw.Close()
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "Failed to finish tar stream")
	}

	err = w.comp.Close()
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "Failed to finish compression")
	}

	return w.hdl.Close()
}

// PackDirectory recursively packs dir into the archive at filename. The archive contains a single top-level folder
// named like the last element of dir.
func PackDirectory(filename, dir string) error {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return eris.Wrapf(err, "Failed to stat %s", dir)
	}

	if !info.IsDir() {
		return eris.Errorf("%s is not a directory", dir)
	}

	writer, err := NewTarWriter(filename)
	if err != nil {
		return err
	}

	err = writer.OpenDirectory(filepath.Base(dir), info)
	if err == nil {
		err = tarWalkDirectory(writer, dir)
	}
	if err == nil {
		err = writer.CloseDirectory()
	}
	if err != nil {
		writer.Close()
		os.Remove(filename)
		return err
	}

	return writer.Close()
}

func tarWalkDirectory(writer *TarWriter, dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return eris.Wrapf(err, "Failed to open dir %s", dir)
	}

	infos, err := f.Readdir(0)
	if err != nil {
		f.Close()
		return eris.Wrapf(err, "Failed to read dir %s", dir)
	}
	f.Close()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name() < infos[j].Name()
	})

	for _, info := range infos {
		itemPath := filepath.Join(dir, info.Name())
		switch {
		case info.IsDir():
			err = writer.OpenDirectory(info.Name(), info)
			if err != nil {
				return err
			}

			err = tarWalkDirectory(writer, itemPath)
			if err != nil {
				return err
			}

			err = writer.CloseDirectory()
			if err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(itemPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read link %s", itemPath)
			}

			err = writer.WriteSymlink(info.Name(), target, info)
			if err != nil {
				return err
			}
		default:
			f, err = os.Open(itemPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to open file %s", itemPath)
			}

			err = writer.WriteFile(info.Name(), info, f)
			if err != nil {
				f.Close()
				return eris.Wrapf(err, "Failed to pack file %s", itemPath)
			}
			f.Close()
		}
	}

	return nil
}
