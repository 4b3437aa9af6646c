// Package tarx writes byte-reproducible gzip-compressed tar archives of a
// directory tree.
package tarx

import (
	"archive/tar"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

const (
	dirMode  = 0o755
	execMode = 0o755
	fileMode = 0o644

	// Level is fixed so identical trees always compress identically.
	Level = gzip.BestCompression
)

type Options struct {
	// Epoch is the single timestamp applied to every member and to the gzip header.
	Epoch int64
}

type Stats struct {
	Files       int
	Directories int
	Bytes       int64
}

// UnsupportedEntryError reports a staged entry that cannot be archived
// reproducibly, such as a symlink or device.
type UnsupportedEntryError struct {
	Path string
	Mode os.FileMode
}

func (e *UnsupportedEntryError) Error() string {
	return fmt.Sprintf("unsupported entry %s (mode %s)", e.Path, e.Mode.Type())
}

// ValidateEpoch checks that epoch fits the 32-bit gzip MTIME field.
func ValidateEpoch(epoch int64) error {
	if epoch < 0 || epoch > math.MaxUint32 {
		return fmt.Errorf("epoch %d out of range [0, %d]", epoch, uint64(math.MaxUint32))
	}
	return nil
}

// WriteDeterministicTarGz serializes every entry below root into w. Members
// are added one by one in depth-first order over sorted names, so the stream
// never depends on directory iteration order or file metadata.
func WriteDeterministicTarGz(w io.Writer, root string, opts Options) (Stats, error) {
	if err := ValidateEpoch(opts.Epoch); err != nil {
		return Stats{}, err
	}
	modTime := time.Unix(opts.Epoch, 0).UTC()

	gzipWriter, err := gzip.NewWriterLevel(w, Level)
	if err != nil {
		return Stats{}, fmt.Errorf("create gzip writer: %w", err)
	}
	gzipWriter.Name = ""
	gzipWriter.Comment = ""
	gzipWriter.ModTime = modTime
	gzipWriter.OS = 255

	tarWriter := tar.NewWriter(gzipWriter)
	archive := &archiveWriter{root: root, tar: tarWriter, modTime: modTime}
	if err := archive.addDir(""); err != nil {
		_ = tarWriter.Close()
		_ = gzipWriter.Close()
		return Stats{}, err
	}
	if err := tarWriter.Close(); err != nil {
		_ = gzipWriter.Close()
		return Stats{}, fmt.Errorf("close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return Stats{}, fmt.Errorf("close gzip writer: %w", err)
	}
	return archive.stats, nil
}

type archiveWriter struct {
	root    string
	tar     *tar.Writer
	modTime time.Time
	stats   Stats
}

func (a *archiveWriter) addDir(relDir string) error {
	entries, err := os.ReadDir(filepath.Join(a.root, filepath.FromSlash(relDir)))
	if err != nil {
		return fmt.Errorf("read dir %q: %w", relDir, err)
	}
	for _, entry := range entries {
		rel := entry.Name()
		if relDir != "" {
			rel = path.Join(relDir, entry.Name())
		}
		switch {
		case entry.IsDir():
			if err := a.writeHeader(rel+"/", tar.TypeDir, dirMode, 0); err != nil {
				return err
			}
			a.stats.Directories++
			if err := a.addDir(rel); err != nil {
				return err
			}
		case entry.Type().IsRegular():
			if err := a.addFile(rel); err != nil {
				return err
			}
		default:
			return &UnsupportedEntryError{Path: rel, Mode: entry.Type()}
		}
	}
	return nil
}

func (a *archiveWriter) addFile(rel string) error {
	source := filepath.Join(a.root, filepath.FromSlash(rel))
	// #nosec G304 -- source is produced by walking the staged tree.
	file, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer func() {
		_ = file.Close()
	}()
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return &UnsupportedEntryError{Path: rel, Mode: info.Mode()}
	}

	mode := int64(fileMode)
	if info.Mode().Perm()&0o111 != 0 {
		mode = execMode
	}
	if err := a.writeHeader(rel, tar.TypeReg, mode, info.Size()); err != nil {
		return err
	}
	written, err := io.Copy(a.tar, file)
	if err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	if written != info.Size() {
		return fmt.Errorf("archive %s: file changed while reading (expected %d bytes, read %d)", rel, info.Size(), written)
	}
	a.stats.Files++
	a.stats.Bytes += written
	return nil
}

func (a *archiveWriter) writeHeader(name string, typeflag byte, mode int64, size int64) error {
	header := &tar.Header{
		Typeflag: typeflag,
		Name:     name,
		Mode:     mode,
		Size:     size,
		ModTime:  a.modTime,
		Uid:      0,
		Gid:      0,
		Uname:    "",
		Gname:    "",
	}
	if err := a.tar.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	return nil
}
