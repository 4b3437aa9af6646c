package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
	"github.com/OrygnsCode/ci-evidence-pack/core/output"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
	"github.com/OrygnsCode/ci-evidence-pack/core/verify"
)

func runVerify(arguments []string, env environment) int {
	if hasExplainFlag(arguments) {
		return writeExplain(env.stdout, "Verify an evidence bundle offline: optional cosign signature check, safe extraction, then strict manifest verification with no extra, missing, or modified files allowed.")
	}
	flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SortFlags = false

	var sigPath string
	var certPath string
	var identity string
	var issuer string
	var configPath string
	var quiet bool
	var jsonOutput bool
	var debug bool
	var helpFlag bool

	flagSet.StringVar(&sigPath, "sig", "", "path to .sig file")
	flagSet.StringVar(&certPath, "cert", "", "path to .crt file")
	flagSet.StringVar(&identity, "identity", "", "expected certificate identity")
	flagSet.StringVar(&issuer, "issuer", "", "expected OIDC issuer")
	flagSet.StringVar(&configPath, "config", "", "project config path (default "+defaultVerifyConfig+")")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "print only OK on success")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output only")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeFailure(env, output.ModeFor(jsonOutput, quiet), usageError(err))
	}
	mode := output.ModeFor(jsonOutput, quiet)
	if helpFlag {
		printFlagUsage(env.stdout, "ci-evidence-pack verify <bundle.tar.gz> [flags]", flagSet)
		return exitOK
	}
	if len(flagSet.Args()) != 1 {
		return writeFailure(env, mode, usageError(fmt.Errorf("expected exactly one bundle path, got %d", len(flagSet.Args()))))
	}
	bundlePath := flagSet.Args()[0]

	emitter := output.New(mode, env.stdout, env.stderr)
	logger := newLogger(env, mode, debug)

	config, err := loadProjectConfig(".", configPath)
	if err != nil {
		return writeFailure(env, mode, err)
	}
	if !flagSet.Changed("identity") && config.Verify.Identity != "" {
		identity = config.Verify.Identity
	}
	if !flagSet.Changed("issuer") && config.Verify.Issuer != "" {
		issuer = config.Verify.Issuer
	}

	emitter.Rule("CI Evidence Pack - Verifier")
	result, err := verify.VerifyBundle(env.ctx, verify.Options{
		BundlePath: bundlePath,
		SigPath:    sigPath,
		CertPath:   certPath,
		Identity:   identity,
		Issuer:     issuer,
		Verifier:   tool.Cosign{Runner: runnerWithLogger(env.runner, logger)},
		Logger:     logger,
	})
	if err != nil {
		if mode != output.ModeJSON && coreerrors.CategoryOf(err) != coreerrors.CategoryInvalidInput {
			emitter.Error("Runtime Error: " + err.Error())
			return exitCodeForError(err)
		}
		return writeFailure(env, mode, err)
	}

	if result.Error != nil {
		cause := coreerrors.Wrap(result.Failure, coreerrors.CategoryVerification, string(result.Failure.Kind), "the bundle does not match its manifest; rebuild it from trusted inputs", false)
		if mode == output.ModeJSON {
			return writeJSONOutput(emitter, result, cause, exitEvidenceInvalid)
		}
		emitter.Error(*result.Error)
		return exitEvidenceInvalid
	}

	switch mode {
	case output.ModeJSON:
		return writeJSONOutput(emitter, result, nil, exitOK)
	case output.ModeQuiet:
		emitter.Quiet("OK")
	default:
		body := "Bundle Verified Successfully\n\nPath: " + result.BundlePath
		if result.SignatureVerified != nil && *result.SignatureVerified {
			body += "\nSignature: verified"
		}
		body += fmt.Sprintf("\nFiles checked: %d", result.Summary.FilesChecked)
		emitter.Panel("Verification Result", strings.TrimSpace(body))
		emitter.Success("Verification Complete")
	}
	return exitOK
}

const defaultVerifyConfig = "./.evidence-pack/config.yaml"
