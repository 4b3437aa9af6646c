package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

// environment is everything a command touches outside its arguments. Tests
// replace the writers, the environment lookup, and the tool runner.
type environment struct {
	ctx      context.Context
	stdout   io.Writer
	stderr   io.Writer
	getenv   func(string) string
	runner   tool.Runner
	terminal bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(os.Args[1:], environment{
		ctx:      ctx,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		getenv:   os.Getenv,
		runner:   tool.ExecRunner{},
		terminal: term.IsTerminal(int(os.Stderr.Fd())),
	})
	stop()
	os.Exit(exitCode)
}

func run(arguments []string, env environment) int {
	command := commandName(arguments)
	exitCode, elapsed := timed(func() int { return dispatch(arguments, env) })
	recordEvent(env, command, exitCode, elapsed)
	return exitCode
}

func dispatch(arguments []string, env environment) int {
	if len(arguments) == 0 {
		printUsage(env.stderr)
		return exitInvalidInput
	}
	switch arguments[0] {
	case "--explain":
		return writeExplain(env.stdout, "ci-evidence-pack builds deterministic, verifiable evidence bundles of CI artifacts and verifies them offline.")
	case "pack":
		return runPack(arguments[1:], env)
	case "verify":
		return runVerify(arguments[1:], env)
	case "diff":
		return runDiff(arguments[1:], env)
	case "doctor":
		return runDoctor(arguments[1:], env)
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[1:]) {
			return writeExplain(env.stdout, "Print the CLI version.")
		}
		_, _ = fmt.Fprintln(env.stdout, versionLine())
		return exitOK
	case "help", "--help", "-h":
		printUsage(env.stdout)
		return exitOK
	default:
		printUsage(env.stderr)
		return exitInvalidInput
	}
}

func versionLine() string {
	return fmt.Sprintf("ci-evidence-pack v%s - Made by OrygnsCode", version)
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage:
  ci-evidence-pack pack [--repo <dir>] [--out <dir>] [--bundle-name <name>] [--include <path>]... [--sbom auto|cyclonedx|syft|none] [--no-collect-git] [--no-collect-pip-freeze] [--cosign-sign] [--config <path>] [--quiet] [--json] [--debug] [--explain]
  ci-evidence-pack verify <bundle.tar.gz> [--sig <path> --cert <path>] [--identity <id>] [--issuer <url>] [--config <path>] [--quiet] [--json] [--debug] [--explain]
  ci-evidence-pack diff <left.tar.gz> <right.tar.gz> [--json] [--debug] [--explain]
  ci-evidence-pack doctor [--workdir <dir>] [--out <dir>] [--json] [--explain]
  ci-evidence-pack version`)
}
