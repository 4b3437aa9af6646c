package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/OrygnsCode/ci-evidence-pack/core/digest"
	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/extract"
	"github.com/OrygnsCode/ci-evidence-pack/core/manifest"
	"github.com/OrygnsCode/ci-evidence-pack/core/schema/v1/evidence"
)

type DiffOptions struct {
	Left       string
	Right      string
	Limits     extract.Limits
	ScratchDir string
	Logger     *slog.Logger
}

// Diff compares the manifests of two bundles. Both archives are extracted
// with the safe extractor into a private scratch tree that is removed before
// returning. Identical reports manifest equality; ArchiveIdentical reports
// byte equality of the archives themselves.
func Diff(ctx context.Context, opts DiffOptions) (evidence.DiffResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	result := evidence.DiffResult{
		Left:    opts.Left,
		Right:   opts.Right,
		Added:   []string{},
		Removed: []string{},
		Changed: []string{},
	}
	limits := opts.Limits
	if limits == (extract.Limits{}) {
		limits = extract.DefaultLimits()
	}

	scratch, err := os.MkdirTemp(opts.ScratchDir, "ci-evidence-pack-diff-*")
	if err != nil {
		return result, coreerrors.Wrap(fmt.Errorf("create scratch dir: %w", err), coreerrors.CategoryIOFailure, "scratch_unavailable", "check TMPDIR is writable", true)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	leftDigest, left, err := loadBundleManifest(opts.Left, filepath.Join(scratch, "left"), limits)
	if err != nil {
		return result, err
	}
	if err := checkCancelled(ctx); err != nil {
		return result, err
	}
	rightDigest, right, err := loadBundleManifest(opts.Right, filepath.Join(scratch, "right"), limits)
	if err != nil {
		return result, err
	}

	// Manifest paths are already in sorted order, so the lists come out sorted.
	leftIndex := left.Index()
	rightIndex := right.Index()
	for _, path := range left.Paths() {
		rightSum, ok := rightIndex[path]
		switch {
		case !ok:
			result.Removed = append(result.Removed, path)
		case rightSum != leftIndex[path]:
			result.Changed = append(result.Changed, path)
		}
	}
	for _, path := range right.Paths() {
		if _, ok := leftIndex[path]; !ok {
			result.Added = append(result.Added, path)
		}
	}

	result.ArchiveIdentical = leftDigest == rightDigest
	result.Identical = len(result.Added) == 0 && len(result.Removed) == 0 && len(result.Changed) == 0
	logger.Info("diffed bundles",
		"added", len(result.Added),
		"removed", len(result.Removed),
		"changed", len(result.Changed),
		"archive_identical", result.ArchiveIdentical,
	)
	return result, nil
}

func loadBundleManifest(bundlePath, dest string, limits extract.Limits) (string, manifest.Manifest, error) {
	info, err := os.Stat(bundlePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", manifest.Manifest{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "bundle_not_found", "check the bundle path", "Bundle not found: %s", bundlePath)
		}
		return "", manifest.Manifest{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "bundle_unreadable", "check file permissions", false)
	}
	if info.IsDir() {
		return "", manifest.Manifest{}, coreerrors.Newf(coreerrors.CategoryInvalidInput, "bundle_is_directory", "pass the .tar.gz file, not a directory", "bundle path is a directory: %s", bundlePath)
	}
	archiveDigest, err := digest.File(bundlePath)
	if err != nil {
		return "", manifest.Manifest{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "bundle_unreadable", "check file permissions", false)
	}
	if _, err := extract.Extract(bundlePath, dest, limits); err != nil {
		var unsafe *extract.UnsafeMemberError
		var corrupt *extract.CorruptArchiveError
		if errors.As(err, &unsafe) || errors.As(err, &corrupt) {
			return "", manifest.Manifest{}, coreerrors.Wrap(fmt.Errorf("%s: %w", bundlePath, err), coreerrors.CategoryVerification, "bundle_invalid", "run verify on the bundle for details", false)
		}
		return "", manifest.Manifest{}, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "extract_failed", "check free space in the scratch directory", true)
	}
	loaded, err := manifest.Load(filepath.Join(dest, filepath.FromSlash(manifest.Path)))
	if err != nil {
		return "", manifest.Manifest{}, coreerrors.Wrap(fmt.Errorf("%s: %w", bundlePath, err), coreerrors.CategoryVerification, "manifest_invalid", "run verify on the bundle for details", false)
	}
	return archiveDigest, loaded, nil
}
