package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/OrygnsCode/ci-evidence-pack/core/bundle"
	"github.com/OrygnsCode/ci-evidence-pack/core/collect"
	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/manifest"
	"github.com/OrygnsCode/ci-evidence-pack/core/output"
	"github.com/OrygnsCode/ci-evidence-pack/core/projectconfig"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

const deprecatedCollectionGitWarning = "DEPRECATED: use --collect-git/--no-collect-git"

func runPack(arguments []string, env environment) int {
	if hasExplainFlag(arguments) {
		return writeExplain(env.stdout, "Create a deterministic evidence bundle: selected artifacts, CI context, optional git metadata, pip freeze and SBOM, a canonical SHA-256 manifest, and an optional cosign signature.")
	}
	flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SortFlags = false

	var repo string
	var outDir string
	var bundleName string
	var includes []string
	var sbom string
	var collectionGit string
	var cosignIdentity string
	var cosignIssuer string
	var configPath string
	var quiet bool
	var jsonOutput bool
	var debug bool
	var helpFlag bool

	flagSet.StringVar(&repo, "repo", ".", "path to repo root")
	flagSet.StringVar(&outDir, "out", "dist", "output directory")
	flagSet.StringVar(&bundleName, "bundle-name", "", "override bundle filename")
	flagSet.StringArrayVar(&includes, "include", nil, "file or directory to include, relative to the repo (repeatable)")
	flagSet.StringVar(&sbom, "sbom", tool.SBOMAuto, "SBOM tool: auto, cyclonedx, syft, none")
	flagSet.Bool("collect-pip-freeze", true, "collect pip freeze if a python project is detected")
	flagSet.Bool("no-collect-pip-freeze", false, "skip pip freeze collection")
	flagSet.Bool("collect-git", true, "collect git metadata")
	flagSet.Bool("no-collect-git", false, "skip git metadata collection")
	flagSet.StringVar(&collectionGit, "collection-git", "", "deprecated alias for --collect-git")
	flagSet.Lookup("collection-git").NoOptDefVal = "true"
	_ = flagSet.MarkHidden("collection-git")
	flagSet.Bool("cosign-sign", false, "sign the bundle with keyless cosign")
	flagSet.StringVar(&cosignIdentity, "cosign-identity", "", "expected signer identity, recorded for verification")
	flagSet.StringVar(&cosignIssuer, "cosign-issuer", "", "expected OIDC issuer, recorded for verification")
	flagSet.StringVar(&configPath, "config", "", "project config path (default <repo>/"+projectconfig.DefaultPath+")")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "print only the bundle path")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output only")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeFailure(env, output.ModeFor(jsonOutput, quiet), usageError(err))
	}
	mode := output.ModeFor(jsonOutput, quiet)
	if helpFlag {
		printFlagUsage(env.stdout, "ci-evidence-pack pack [flags]", flagSet)
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeFailure(env, mode, usageError(fmt.Errorf("unexpected positional arguments: %s", strings.Join(flagSet.Args(), " "))))
	}

	emitter := output.New(mode, env.stdout, env.stderr)
	logger := newLogger(env, mode, debug)

	config, err := loadProjectConfig(repo, configPath)
	if err != nil {
		return writeFailure(env, mode, err)
	}
	if !flagSet.Changed("out") && config.Pack.Out != "" {
		outDir = config.Pack.Out
		if !filepath.IsAbs(outDir) {
			outDir = filepath.Join(repo, outDir)
		}
	}
	if !flagSet.Changed("bundle-name") && config.Pack.BundleName != "" {
		bundleName = config.Pack.BundleName
	}
	if !flagSet.Changed("include") {
		includes = config.Pack.Include
	}
	if !flagSet.Changed("sbom") && config.Pack.SBOM != "" {
		sbom = config.Pack.SBOM
	}
	if !flagSet.Changed("cosign-identity") && config.Pack.CosignIdentity != "" {
		cosignIdentity = config.Pack.CosignIdentity
	}
	if !flagSet.Changed("cosign-issuer") && config.Pack.CosignIssuer != "" {
		cosignIssuer = config.Pack.CosignIssuer
	}
	sbom = strings.ToLower(strings.TrimSpace(sbom))
	if !tool.ValidSBOMPreference(sbom) {
		return writeFailure(env, mode, coreerrors.Newf(coreerrors.CategoryInvalidInput, "invalid_sbom", "use auto, cyclonedx, syft, or none", "unsupported --sbom value %q", sbom))
	}

	collectGit := resolveToggle(flagSet, "collect-git", "no-collect-git", config.Pack.CollectGit, true)
	collectPipFreeze := resolveToggle(flagSet, "collect-pip-freeze", "no-collect-pip-freeze", config.Pack.CollectPipFreeze, true)
	if flagSet.Changed("collection-git") {
		logger.Warn(deprecatedCollectionGitWarning)
		emitter.Warn(deprecatedCollectionGitWarning)
		value, recognized := parseDeprecatedToggle(collectionGit)
		if !recognized {
			message := fmt.Sprintf("Ignoring unrecognized value for deprecated flag: %s. Defaulting to True.", collectionGit)
			logger.Warn(message)
			emitter.Warn(message)
		}
		collectGit = value
	}
	sign := resolveToggle(flagSet, "cosign-sign", "", config.Pack.CosignSign, false)

	epoch, err := collect.SourceDateEpoch(env.getenv)
	if err != nil {
		logger.Warn("ignoring SOURCE_DATE_EPOCH", "error", err)
		emitter.Warn(err.Error())
	}
	if cosignIdentity != "" || cosignIssuer != "" {
		logger.Debug("expected signer", "identity", cosignIdentity, "issuer", cosignIssuer)
	}

	emitter.Rule("CI Evidence Pack - Generator")
	runner := runnerWithLogger(env.runner, logger)
	result, err := bundle.Create(env.ctx, bundle.Options{
		RepoRoot:         repo,
		OutDir:           outDir,
		BundleName:       bundleName,
		Includes:         includes,
		SBOM:             sbom,
		CollectGit:       collectGit,
		CollectPipFreeze: collectPipFreeze,
		Sign:             sign,
		Version:          version,
		Epoch:            epoch,
		Getenv:           env.getenv,
		SourceControl:    collect.Git{Runner: runner, Logger: logger},
		Dependencies:     collect.PipFreeze{Runner: runner, Logger: logger},
		SBOMGenerator:    tool.SBOM{Runner: runner},
		Signer:           tool.Cosign{Runner: runner},
		Workers:          manifest.DefaultWorkers(),
		Logger:           logger,
	})
	if err != nil {
		return writeFailure(env, mode, err)
	}

	switch mode {
	case output.ModeJSON:
		return writeJSONOutput(emitter, result.CreateResult, nil, exitOK)
	case output.ModeQuiet:
		emitter.Quiet(result.BundlePath)
	default:
		signed := "No"
		if result.Signed {
			signed = "Yes"
		}
		emitter.Table("Bundle Contents", [][2]string{
			{"Bundle Path", result.BundlePath},
			{"Files Packed", fmt.Sprintf("%d", result.FileCount)},
			{"SBOM Tool", result.SBOMTool},
			{"Signed", signed},
		})
		emitter.Success("Bundle created: " + result.BundlePath)
	}
	return exitOK
}

func loadProjectConfig(repo, configPath string) (projectconfig.Config, error) {
	allowMissing := strings.TrimSpace(configPath) == ""
	if allowMissing {
		configPath = filepath.Join(repo, filepath.FromSlash(projectconfig.DefaultPath))
	}
	config, err := projectconfig.Load(configPath, allowMissing)
	if err != nil {
		return projectconfig.Config{}, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_config", "fix or remove "+configPath, false)
	}
	return config, nil
}

// resolveToggle applies the built-in default, then config, then the positive
// flag, then the negative flag.
func resolveToggle(flagSet *pflag.FlagSet, positive, negative string, configured *bool, fallback bool) bool {
	value := fallback
	if configured != nil {
		value = *configured
	}
	if flagSet.Changed(positive) {
		value, _ = flagSet.GetBool(positive)
	}
	if negative != "" && flagSet.Changed(negative) {
		if disabled, _ := flagSet.GetBool(negative); disabled {
			value = false
		}
	}
	return value
}

// parseDeprecatedToggle maps --collection-git values. Unrecognized values
// default to true and report recognized=false.
func parseDeprecatedToggle(raw string) (value bool, recognized bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on", "":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return true, false
	}
}

func usageError(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "invalid_arguments", "run with --help for usage", false)
}

func printFlagUsage(w io.Writer, usage string, flagSet *pflag.FlagSet) {
	_, _ = fmt.Fprintf(w, "Usage: %s\n\nFlags:\n%s", usage, flagSet.FlagUsages())
}

// writeFailure reports err in the current mode and returns its exit code.
func writeFailure(env environment, mode output.Mode, err error) int {
	exitCode := exitCodeForError(err)
	emitter := output.New(mode, env.stdout, env.stderr)
	if mode == output.ModeJSON {
		return writeJSONOutput(emitter, errorOutput{Error: err.Error()}, err, exitCode)
	}
	emitter.Error(err.Error())
	return exitCode
}
