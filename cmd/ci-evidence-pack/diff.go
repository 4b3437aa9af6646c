package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/OrygnsCode/ci-evidence-pack/core/bundle"
	"github.com/OrygnsCode/ci-evidence-pack/core/output"
)

func runDiff(arguments []string, env environment) int {
	if hasExplainFlag(arguments) {
		return writeExplain(env.stdout, "Compare the manifests of two evidence bundles and report added, removed, and changed files, plus whether the archives are byte-identical.")
	}
	flagSet := pflag.NewFlagSet("diff", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var debug bool
	var helpFlag bool
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output only")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeFailure(env, output.ModeFor(jsonOutput, false), usageError(err))
	}
	mode := output.ModeFor(jsonOutput, false)
	if helpFlag {
		printFlagUsage(env.stdout, "ci-evidence-pack diff <left.tar.gz> <right.tar.gz> [flags]", flagSet)
		return exitOK
	}
	if len(flagSet.Args()) != 2 {
		return writeFailure(env, mode, usageError(fmt.Errorf("expected two bundle paths, got %d", len(flagSet.Args()))))
	}

	emitter := output.New(mode, env.stdout, env.stderr)
	logger := newLogger(env, mode, debug)
	result, err := bundle.Diff(env.ctx, bundle.DiffOptions{
		Left:   flagSet.Args()[0],
		Right:  flagSet.Args()[1],
		Logger: logger,
	})
	if err != nil {
		return writeFailure(env, mode, err)
	}

	exitCode := exitOK
	if !result.Identical {
		exitCode = exitEvidenceInvalid
	}
	if mode == output.ModeJSON {
		return writeJSONOutput(emitter, result, nil, exitCode)
	}

	emitter.Rule("CI Evidence Pack - Diff")
	archive := "differ"
	if result.ArchiveIdentical {
		archive = "identical"
	}
	emitter.Table("Bundle Diff", [][2]string{
		{"Left", result.Left},
		{"Right", result.Right},
		{"Archives", archive},
		{"Added", fmt.Sprintf("%d", len(result.Added))},
		{"Removed", fmt.Sprintf("%d", len(result.Removed))},
		{"Changed", fmt.Sprintf("%d", len(result.Changed))},
	})
	for _, path := range result.Added {
		emitter.Info("+ " + path)
	}
	for _, path := range result.Removed {
		emitter.Info("- " + path)
	}
	for _, path := range result.Changed {
		emitter.Info("~ " + path)
	}
	if result.Identical {
		emitter.Success("Manifests identical")
	} else {
		emitter.Error("Manifests differ")
	}
	return exitCode
}
