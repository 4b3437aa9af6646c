package manifest

import (
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/OrygnsCode/ci-evidence-pack/core/digest"
)

type BuildOptions struct {
	// Workers bounds parallel hashing. Zero or one hashes sequentially.
	Workers int
}

// Files yields the slash path of every regular file below root in depth-first
// order over sorted directory entries. The exclude path is skipped. Symlinks
// and other non-regular entries are never yielded or followed.
func Files(root string, exclude string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		walkFiles(root, "", exclude, yield)
	}
}

func walkFiles(root, relDir, exclude string, yield func(string, error) bool) bool {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(relDir)))
	if err != nil {
		return yield("", fmt.Errorf("read dir %q: %w", relDir, err))
	}
	for _, entry := range entries {
		rel := joinSlash(relDir, entry.Name())
		switch {
		case entry.IsDir():
			if !walkFiles(root, rel, exclude, yield) {
				return false
			}
		case entry.Type().IsRegular():
			if rel == exclude {
				continue
			}
			if !yield(rel, nil) {
				return false
			}
		}
	}
	return true
}

// Build digests every file yielded by Files and returns entries sorted by path.
// A path that Parse would reject fails the build, so a built manifest always
// reads back.
func Build(root, exclude string, opts BuildOptions) (Manifest, error) {
	var paths []string
	for rel, err := range Files(root, exclude) {
		if err != nil {
			return Manifest{}, err
		}
		if err := ValidatePath(rel); err != nil {
			return Manifest{}, &UnrecordablePathError{Path: rel, Err: err}
		}
		paths = append(paths, rel)
	}

	entries := make([]Entry, len(paths))
	for i, rel := range paths {
		entries[i].Path = rel
	}

	workers := opts.Workers
	if workers > len(paths) {
		workers = len(paths)
	}
	if workers <= 1 {
		for i := range entries {
			sum, err := digest.File(filepath.Join(root, filepath.FromSlash(entries[i].Path)))
			if err != nil {
				return Manifest{}, err
			}
			entries[i].Digest = sum
		}
	} else if err := hashParallel(root, entries, workers); err != nil {
		return Manifest{}, err
	}

	sortEntries(entries)
	return Manifest{Entries: entries}, nil
}

// UnrecordablePathError reports a file whose name cannot appear in a manifest.
type UnrecordablePathError struct {
	Path string
	Err  error
}

func (e *UnrecordablePathError) Error() string {
	return fmt.Sprintf("cannot record %q in manifest: %v", e.Path, e.Err)
}

func (e *UnrecordablePathError) Unwrap() error {
	return e.Err
}

// DefaultWorkers is a parallelism suited to the local machine.
func DefaultWorkers() int {
	return min(runtime.NumCPU(), 8)
}

// hashParallel fills entries[i].Digest in place; slot positions fix ordering.
func hashParallel(root string, entries []Entry, workers int) error {
	jobs := make(chan int)
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sum, err := digest.File(filepath.Join(root, filepath.FromSlash(entries[i].Path)))
				if err != nil {
					errs[i] = err
					continue
				}
				entries[i].Digest = sum
			}
		}()
	}
	for i := range entries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
