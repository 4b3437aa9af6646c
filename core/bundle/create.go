// Package bundle assembles evidence bundles: it stages artifacts and
// context, writes the canonical manifest, and publishes a deterministic
// archive.
package bundle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/collect"
	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/fsx"
	"github.com/OrygnsCode/ci-evidence-pack/core/jcs"
	"github.com/OrygnsCode/ci-evidence-pack/core/manifest"
	"github.com/OrygnsCode/ci-evidence-pack/core/schema/v1/evidence"
	"github.com/OrygnsCode/ci-evidence-pack/core/schema/validate"
	"github.com/OrygnsCode/ci-evidence-pack/core/tarx"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

type Options struct {
	RepoRoot   string
	OutDir     string
	BundleName string
	Includes   []string

	SBOM             string
	CollectGit       bool
	CollectPipFreeze bool
	Sign             bool

	Version string
	// Epoch is the reproducibility timestamp, normally SOURCE_DATE_EPOCH.
	Epoch  int64
	Getenv func(string) string

	SourceControl collect.SourceControl
	Dependencies  collect.Dependencies
	SBOMGenerator tool.SBOMGenerator
	Signer        tool.Signer

	// Workers bounds parallel manifest hashing.
	Workers int
	// StagingDir is the parent of the private staging tree. Empty uses the
	// system temp directory.
	StagingDir string
	Logger     *slog.Logger
}

type CreateResult struct {
	evidence.CreateResult

	Warnings []string   `json:"-"`
	Archive  tarx.Stats `json:"-"`
}

// DefaultBundleName is ci-evidence-pack_<repo>_<sha7|nosha>_<run id|local>.tar.gz.
func DefaultBundleName(repoRoot string, getenv func(string) string) string {
	repoName := filepath.Base(filepath.Clean(repoRoot))
	sha := strings.TrimSpace(getenv("GITHUB_SHA"))
	if sha == "" {
		sha = "nosha"
	}
	if len(sha) > 7 {
		sha = sha[:7]
	}
	runID := strings.TrimSpace(getenv("GITHUB_RUN_ID"))
	if runID == "" {
		runID = "local"
	}
	return fmt.Sprintf("%s_%s_%s_%s.tar.gz", evidence.ToolName, repoName, sha, runID)
}

// ValidateBundleName accepts a plain file name only.
func ValidateBundleName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("bundle name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("bundle name %q is not a file name", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("bundle name %q must not contain path separators", name)
	}
	return nil
}

// Create stages the evidence, writes the manifest, and publishes the archive
// at OutDir/BundleName via an atomic rename. The staging tree is removed on
// every return path. When signing fails the published bundle and any partial
// signature files are removed.
func Create(ctx context.Context, opts Options) (CreateResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	repoRoot, err := resolveRepoRoot(opts.RepoRoot)
	if err != nil {
		return CreateResult{}, err
	}
	bundleName := opts.BundleName
	if bundleName == "" {
		bundleName = DefaultBundleName(repoRoot, getenv)
	}
	if err := ValidateBundleName(bundleName); err != nil {
		return CreateResult{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_bundle_name", "pass a plain file name to --bundle-name", false)
	}
	if err := tarx.ValidateEpoch(opts.Epoch); err != nil {
		return CreateResult{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_epoch", "set SOURCE_DATE_EPOCH to a non-negative 32-bit value", false)
	}
	outDir, err := filepath.Abs(defaultString(opts.OutDir, "dist"))
	if err != nil {
		return CreateResult{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_output_dir", "", false)
	}
	outDir = resolveExisting(outDir)
	version := defaultString(opts.Version, "unknown")

	stage, err := os.MkdirTemp(opts.StagingDir, "ci-evidence-pack-stage-*")
	if err != nil {
		return CreateResult{}, coreerrors.Wrap(fmt.Errorf("create staging dir: %w", err), coreerrors.CategoryIOFailure, "staging_unavailable", "check TMPDIR is writable", true)
	}
	defer func() {
		_ = os.RemoveAll(stage)
	}()
	logger.Debug("staging evidence", "stage", stage, "repo", repoRoot)

	result := CreateResult{}
	result.SourceDateEpoch = opts.Epoch
	result.SBOMTool = tool.SBOMNone

	inputs, warnings, err := stageArtifacts(repoRoot, stage, opts.Includes, []string{outDir})
	if err != nil {
		return CreateResult{}, ioFailure("stage_artifacts_failed", err)
	}
	for _, warning := range warnings {
		logger.Warn(warning)
	}
	result.Warnings = append(result.Warnings, warnings...)
	if err := checkCancelled(ctx); err != nil {
		return CreateResult{}, err
	}

	if err := stageMetadata(ctx, stage, repoRoot, version, opts, getenv, logger); err != nil {
		return CreateResult{}, err
	}
	if err := checkCancelled(ctx); err != nil {
		return CreateResult{}, err
	}

	if opts.CollectPipFreeze && opts.Dependencies != nil {
		if freeze, ok := opts.Dependencies.Collect(ctx, repoRoot); ok {
			if err := writeStaged(stage, "deps/pip_freeze.txt", []byte(freeze)); err != nil {
				return CreateResult{}, err
			}
			logger.Info("collected pip freeze")
		}
	}
	if err := checkCancelled(ctx); err != nil {
		return CreateResult{}, err
	}

	sbomTool, sbomWarnings, err := stageSBOM(ctx, stage, repoRoot, opts)
	if err != nil {
		return CreateResult{}, err
	}
	for _, warning := range sbomWarnings {
		logger.Warn(warning)
	}
	result.Warnings = append(result.Warnings, sbomWarnings...)
	result.SBOMTool = sbomTool
	if err := checkCancelled(ctx); err != nil {
		return CreateResult{}, err
	}

	if err := writeJSON(stage, "manifest/inputs.json", validate.SchemaInputs, nonNilInputs(inputs)); err != nil {
		return CreateResult{}, err
	}
	built, err := manifest.Generate(stage, manifest.BuildOptions{Workers: opts.Workers})
	if err != nil {
		var unrecordable *manifest.UnrecordablePathError
		if errors.As(err, &unrecordable) {
			return CreateResult{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "manifest_path_unrecordable", "rename the file or leave it out of --include", false)
		}
		return CreateResult{}, ioFailure("manifest_failed", err)
	}
	logger.Info("generated manifest", "files", len(built.Entries))
	if err := checkCancelled(ctx); err != nil {
		return CreateResult{}, err
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return CreateResult{}, ioFailure("output_dir_failed", fmt.Errorf("create output dir: %w", err))
	}
	bundlePath := filepath.Join(outDir, bundleName)
	hasher := sha256.New()
	var stats tarx.Stats
	err = fsx.WriteAtomic(bundlePath, 0o644, func(w io.Writer) error {
		var writeErr error
		stats, writeErr = tarx.WriteDeterministicTarGz(io.MultiWriter(w, hasher), stage, tarx.Options{Epoch: opts.Epoch})
		return writeErr
	})
	if err != nil {
		var unsupported *tarx.UnsupportedEntryError
		if errors.As(err, &unsupported) {
			return CreateResult{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "unsupported_staged_entry", "", false)
		}
		return CreateResult{}, ioFailure("write_bundle_failed", err)
	}
	logger.Info("wrote bundle", "path", bundlePath, "files", stats.Files)

	result.BundlePath = bundlePath
	result.BundleSHA256 = hex.EncodeToString(hasher.Sum(nil))
	result.FileCount = stats.Files
	result.Archive = stats

	if opts.Sign {
		sigPath := bundlePath + ".sig"
		certPath := bundlePath + ".crt"
		if err := sign(ctx, opts.Signer, bundlePath, sigPath, certPath); err != nil {
			for _, path := range []string{bundlePath, sigPath, certPath} {
				_ = os.Remove(path)
			}
			return CreateResult{}, err
		}
		logger.Info("signed bundle", "signature", sigPath, "certificate", certPath)
		result.Signed = true
		result.SigPath = &sigPath
		result.CertPath = &certPath
	}
	return result, nil
}

func sign(ctx context.Context, signer tool.Signer, bundlePath, sigPath, certPath string) error {
	if signer == nil {
		return coreerrors.Newf(coreerrors.CategoryInternalFailure, "signer_not_configured", "", "signing requested but no signer configured")
	}
	return signer.Sign(ctx, bundlePath, sigPath, certPath)
}

func stageMetadata(ctx context.Context, stage, repoRoot, version string, opts Options, getenv func(string) string, logger *slog.Logger) error {
	metadata := evidence.Metadata{Tool: evidence.ToolName, Version: version, CreatedAtEpoch: opts.Epoch}
	if err := writeJSON(stage, "metadata/metadata.json", validate.SchemaMetadata, metadata); err != nil {
		return err
	}
	if err := writeJSON(stage, "metadata/run.json", validate.SchemaRun, collect.RunContext(getenv, opts.Epoch)); err != nil {
		return err
	}
	if !opts.CollectGit || opts.SourceControl == nil {
		return nil
	}
	info, err := opts.SourceControl.Collect(ctx, repoRoot)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "git_collect_failed", "pass --no-collect-git to skip source-control metadata", true)
	}
	if info == nil {
		logger.Debug("no source-control metadata collected")
		return nil
	}
	return writeJSON(stage, "metadata/git.json", validate.SchemaGit, info)
}

// stageSBOM returns the tool that actually produced a file, or none.
func stageSBOM(ctx context.Context, stage, repoRoot string, opts Options) (string, []string, error) {
	preference := defaultString(opts.SBOM, tool.SBOMAuto)
	if preference == tool.SBOMNone || opts.SBOMGenerator == nil {
		return tool.SBOMNone, nil, nil
	}
	selected, err := opts.SBOMGenerator.Resolve(preference)
	if err != nil {
		if coreerrors.CategoryOf(err) == coreerrors.CategoryDependencyMissing {
			return tool.SBOMNone, []string{err.Error()}, nil
		}
		return tool.SBOMNone, nil, err
	}
	if selected == tool.SBOMNone {
		return tool.SBOMNone, nil, nil
	}

	sbomDir := filepath.Join(stage, "sbom")
	if err := os.MkdirAll(sbomDir, 0o750); err != nil {
		return tool.SBOMNone, nil, ioFailure("sbom_dir_failed", err)
	}
	outPath := filepath.Join(sbomDir, tool.FileName(selected))
	if err := opts.SBOMGenerator.Generate(ctx, selected, outPath, repoRoot); err != nil {
		_ = os.RemoveAll(sbomDir)
		return tool.SBOMNone, []string{fmt.Sprintf("SBOM generation failed: %v", err)}, nil
	}
	if info, err := os.Lstat(outPath); err != nil || !info.Mode().IsRegular() {
		_ = os.RemoveAll(sbomDir)
		return tool.SBOMNone, []string{fmt.Sprintf("SBOM tool %s produced no file", selected)}, nil
	}
	return selected, nil, nil
}

func writeJSON(stage, rel, schemaName string, value any) error {
	encoded, err := jcs.MarshalStable(value)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "encode_failed", "", false)
	}
	if err := validate.ValidateJSON(schemaName, encoded); err != nil {
		return coreerrors.Wrap(fmt.Errorf("%s: %w", rel, err), coreerrors.CategoryInvalidInput, "invalid_metadata", "check CI environment values", false)
	}
	return writeStaged(stage, rel, encoded)
}

func writeStaged(stage, rel string, content []byte) error {
	target := filepath.Join(stage, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return ioFailure("stage_write_failed", err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil {
		return ioFailure("stage_write_failed", err)
	}
	return nil
}

func resolveRepoRoot(path string) (string, error) {
	absolute, err := filepath.Abs(defaultString(path, "."))
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_repo", "", false)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "repo_not_found", "check --repo points at a directory", false)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", coreerrors.Newf(coreerrors.CategoryInvalidInput, "repo_not_directory", "check --repo points at a directory", "repo %s is not a directory", path)
	}
	return resolved, nil
}

// resolveExisting resolves symlinks in the longest existing prefix of path so
// it compares equal to paths walked under a resolved repository root.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveExisting(parent), filepath.Base(path))
}

func checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "pack_cancelled", "", true)
	}
	return nil
}

func ioFailure(code string, err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, code, "", true)
}

func nonNilInputs(inputs []evidence.InputEntry) []evidence.InputEntry {
	if inputs == nil {
		return []evidence.InputEntry{}
	}
	return inputs
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
