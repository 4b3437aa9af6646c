package main

import (
	"log/slog"

	"github.com/OrygnsCode/ci-evidence-pack/core/output"
	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

// newLogger builds the per-command logger on stderr: text for a terminal,
// JSON lines otherwise. Quiet and JSON modes discard logs unless debug is set.
func newLogger(env environment, mode output.Mode, debug bool) *slog.Logger {
	if mode != output.ModeHuman && !debug {
		return slog.New(slog.DiscardHandler)
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}
	if env.terminal {
		return slog.New(slog.NewTextHandler(env.stderr, options))
	}
	return slog.New(slog.NewJSONHandler(env.stderr, options))
}

// runnerWithLogger threads the command logger into the real exec runner so
// delegated tool invocations show up at debug level.
func runnerWithLogger(runner tool.Runner, logger *slog.Logger) tool.Runner {
	if execRunner, ok := runner.(tool.ExecRunner); ok {
		execRunner.Logger = logger
		return execRunner
	}
	return runner
}
