package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/extract"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

type Options struct {
	BundlePath string
	SigPath    string
	CertPath   string
	Identity   string
	Issuer     string

	Verifier tool.SignatureVerifier
	Limits   extract.Limits
	// ScratchDir is the parent of the temporary extraction tree. Empty uses
	// the system temp directory.
	ScratchDir string
	Logger     *slog.Logger
}

// Result is the verification payload. SignatureVerified stays nil when no
// signature material was supplied.
type Result struct {
	BundlePath        string  `json:"bundle_path"`
	SignatureVerified *bool   `json:"signature_verified"`
	ManifestVerified  bool    `json:"manifest_verified"`
	Strict            bool    `json:"strict"`
	Error             *string `json:"error"`

	Failure *Failure `json:"-"`
	Summary Summary  `json:"-"`
}

func (r *Result) fail(failure *Failure) {
	message := failure.Error()
	r.Failure = failure
	r.Error = &message
}

// VerifyBundle checks the optional signature, extracts the bundle into a
// private scratch tree, and runs VerifyTree. Integrity violations populate
// Result.Error and return a nil error. Input problems and verifier faults
// return a classified error.
func VerifyBundle(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	result := Result{BundlePath: opts.BundlePath, Strict: true}

	info, err := os.Stat(opts.BundlePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, coreerrors.Newf(coreerrors.CategoryInvalidInput, "bundle_not_found", "check the bundle path", "Bundle not found: %s", opts.BundlePath)
		}
		return result, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "bundle_unreadable", "check file permissions", false)
	}
	if info.IsDir() {
		return result, coreerrors.Newf(coreerrors.CategoryInvalidInput, "bundle_is_directory", "pass the .tar.gz file, not a directory", "bundle path is a directory: %s", opts.BundlePath)
	}

	sigPath := strings.TrimSpace(opts.SigPath)
	certPath := strings.TrimSpace(opts.CertPath)
	if (sigPath == "") != (certPath == "") {
		// A half-specified pair is a usage error (exit 1), not an evidence verdict.
		return result, coreerrors.Newf(coreerrors.CategoryInvalidInput, "signature_pair_required", "pass both --sig and --cert, or neither", "both --sig and --cert must be provided for verification")
	}
	if sigPath != "" {
		if opts.Verifier == nil {
			return result, coreerrors.Newf(coreerrors.CategoryInternalFailure, "verifier_not_configured", "", "signature verifier not configured")
		}
		verified, err := opts.Verifier.Verify(ctx, tool.VerifyRequest{
			BlobPath: opts.BundlePath,
			SigPath:  sigPath,
			CertPath: certPath,
			Identity: opts.Identity,
			Issuer:   opts.Issuer,
		})
		if err != nil {
			return result, err
		}
		result.SignatureVerified = &verified
		if !verified {
			logger.Error("signature verification failed", "bundle", opts.BundlePath)
			result.fail(&Failure{Kind: KindSignatureFailed, Path: opts.BundlePath})
			return result, nil
		}
		logger.Info("signature verified", "bundle", opts.BundlePath)
	}

	if err := ctx.Err(); err != nil {
		return result, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "verify_cancelled", "", true)
	}

	scratch, err := os.MkdirTemp(opts.ScratchDir, "ci-evidence-pack-verify-*")
	if err != nil {
		return result, coreerrors.Wrap(fmt.Errorf("create scratch dir: %w", err), coreerrors.CategoryIOFailure, "scratch_unavailable", "check TMPDIR is writable", true)
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	limits := opts.Limits
	if limits == (extract.Limits{}) {
		limits = extract.DefaultLimits()
	}
	tree := filepath.Join(scratch, "bundle")
	if _, err := extract.Extract(opts.BundlePath, tree, limits); err != nil {
		var unsafe *extract.UnsafeMemberError
		var corrupt *extract.CorruptArchiveError
		switch {
		case errors.As(err, &unsafe):
			result.fail(&Failure{Kind: KindUnsafeMember, Path: unsafe.Member, Detail: err.Error()})
			return result, nil
		case errors.As(err, &corrupt):
			result.fail(&Failure{Kind: KindCorruptArchive, Detail: err.Error()})
			return result, nil
		default:
			return result, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "extract_failed", "check free space in the scratch directory", true)
		}
	}

	if err := ctx.Err(); err != nil {
		return result, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "verify_cancelled", "", true)
	}

	summary, err := VerifyTree(tree)
	if err != nil {
		var failure *Failure
		if errors.As(err, &failure) {
			logger.Error("manifest verification failed", "kind", string(failure.Kind), "path", failure.Path)
			result.fail(failure)
			return result, nil
		}
		return result, coreerrors.Wrap(err, coreerrors.CategoryIOFailure, "verify_io_failed", "", true)
	}
	result.ManifestVerified = true
	result.Summary = summary
	logger.Info("manifest verified", "files", summary.FilesChecked)
	return result, nil
}
