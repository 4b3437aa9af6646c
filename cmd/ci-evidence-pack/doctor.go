package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/OrygnsCode/ci-evidence-pack/core/doctor"
	"github.com/OrygnsCode/ci-evidence-pack/core/output"
)

type doctorOutput struct {
	OK bool `json:"ok"`
	doctor.Result
}

func runDoctor(arguments []string, env environment) int {
	if hasExplainFlag(arguments) {
		return writeExplain(env.stdout, "Diagnose the local environment for pack and verify: writable directories, delegated tools, and SOURCE_DATE_EPOCH, with fix suggestions.")
	}
	flagSet := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var workDir string
	var outDir string
	var jsonOutput bool
	var helpFlag bool
	flagSet.StringVar(&workDir, "workdir", ".", "workspace path for checks")
	flagSet.StringVar(&outDir, "out", "dist", "output directory to check")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output only")
	flagSet.BoolVarP(&helpFlag, "help", "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeFailure(env, output.ModeFor(jsonOutput, false), usageError(err))
	}
	mode := output.ModeFor(jsonOutput, false)
	if helpFlag {
		printFlagUsage(env.stdout, "ci-evidence-pack doctor [flags]", flagSet)
		return exitOK
	}
	if len(flagSet.Args()) > 0 {
		return writeFailure(env, mode, usageError(fmt.Errorf("unexpected positional arguments")))
	}

	result := doctor.Run(doctor.Options{
		WorkDir:         workDir,
		OutputDir:       outDir,
		ProducerVersion: version,
		Runner:          env.runner,
		Getenv:          env.getenv,
	})
	exitCode := exitOK
	if result.Status == doctor.StatusFail {
		exitCode = exitInvalidInput
	}
	emitter := output.New(mode, env.stdout, env.stderr)
	if mode == output.ModeJSON {
		return writeJSONOutput(emitter, doctorOutput{OK: exitCode == exitOK, Result: result}, nil, exitCode)
	}

	emitter.Rule("CI Evidence Pack - Doctor")
	rows := make([][2]string, 0, len(result.Checks))
	for _, check := range result.Checks {
		rows = append(rows, [2]string{check.Name, check.Status + ": " + check.Message})
	}
	emitter.Table("Checks", rows)
	for _, fix := range result.FixCommands {
		emitter.Info("fix: " + fix)
	}
	if exitCode == exitOK {
		emitter.Success(result.Summary)
	} else {
		emitter.Error(result.Summary)
	}
	return exitCode
}
