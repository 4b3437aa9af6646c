// Package verify checks an evidence bundle under a closed-world policy: every
// declared file present with a matching digest and nothing undeclared.
package verify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/OrygnsCode/ci-evidence-pack/core/digest"
	"github.com/OrygnsCode/ci-evidence-pack/core/manifest"
)

type FailureKind string

const (
	KindManifestMissing FailureKind = "manifest_missing"
	KindManifestInvalid FailureKind = "manifest_invalid"
	KindUnexpectedFile  FailureKind = "unexpected_file"
	KindHashMismatch    FailureKind = "hash_mismatch"
	KindMissingFile     FailureKind = "missing_file"
	KindUnsafeMember    FailureKind = "unsafe_member"
	KindCorruptArchive  FailureKind = "corrupt_archive"
	KindSignatureFailed FailureKind = "signature_invalid"
)

// Failure is an integrity verdict against the evidence, as opposed to an
// error in the verifier itself.
type Failure struct {
	Kind     FailureKind
	Path     string
	Expected string
	Actual   string
	Detail   string
}

func (f *Failure) Error() string {
	switch f.Kind {
	case KindManifestMissing:
		return "manifest missing from bundle: " + manifest.Path
	case KindManifestInvalid:
		return "invalid manifest: " + f.Detail
	case KindUnexpectedFile:
		return "unexpected file in bundle: " + f.Path
	case KindHashMismatch:
		return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", f.Path, f.Expected, f.Actual)
	case KindMissingFile:
		return "missing file declared in manifest: " + f.Path
	case KindUnsafeMember, KindCorruptArchive:
		return "failed to extract bundle: " + f.Detail
	case KindSignatureFailed:
		return "signature invalid"
	default:
		return fmt.Sprintf("%s: %s", f.Kind, f.Path)
	}
}

type Summary struct {
	ManifestEntries int `json:"manifest_entries"`
	FilesChecked    int `json:"files_checked"`
}

// VerifyTree checks an extracted bundle rooted at root. Integrity violations
// are returned as *Failure; any other error is an I/O fault.
func VerifyTree(root string) (Summary, error) {
	manifestPath := filepath.Join(root, filepath.FromSlash(manifest.Path))
	info, err := os.Lstat(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Summary{}, &Failure{Kind: KindManifestMissing, Path: manifest.Path}
		}
		return Summary{}, fmt.Errorf("stat manifest: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Summary{}, &Failure{Kind: KindManifestMissing, Path: manifest.Path}
	}

	// #nosec G304 -- manifest path is inside the scratch tree owned by the caller.
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return Summary{}, fmt.Errorf("read manifest: %w", err)
	}
	declared, err := manifest.Parse(data)
	if err != nil {
		return Summary{}, &Failure{Kind: KindManifestInvalid, Path: manifest.Path, Detail: err.Error()}
	}
	expected := declared.Index()
	observed := make(map[string]struct{}, len(expected))

	walkErr := filepath.WalkDir(root, func(current string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == manifest.Path {
			return nil
		}
		want, declaredPath := expected[rel]
		if !declaredPath || !entry.Type().IsRegular() {
			return &Failure{Kind: KindUnexpectedFile, Path: rel}
		}
		actual, err := digest.File(current)
		if err != nil {
			return err
		}
		if actual != want {
			return &Failure{Kind: KindHashMismatch, Path: rel, Expected: want, Actual: actual}
		}
		observed[rel] = struct{}{}
		return nil
	})
	if walkErr != nil {
		return Summary{}, walkErr
	}

	for _, entry := range declared.Entries {
		if _, ok := observed[entry.Path]; !ok {
			return Summary{}, &Failure{Kind: KindMissingFile, Path: entry.Path}
		}
	}
	return Summary{ManifestEntries: len(declared.Entries), FilesChecked: len(observed)}, nil
}
