package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/OrygnsCode/ci-evidence-pack/core/fsx"
)

// eventLogEnv names a JSONL file that receives one record per command run.
const eventLogEnv = "CI_EVIDENCE_PACK_EVENT_LOG"

type commandEvent struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Version    string `json:"version"`
	FinishedAt string `json:"finished_at"`
}

func commandName(arguments []string) string {
	if len(arguments) == 0 {
		return "usage"
	}
	switch command := strings.TrimSpace(arguments[0]); command {
	case "--version", "-v", "version":
		return "version"
	case "--explain":
		return "explain"
	case "pack", "verify", "diff", "doctor":
		return command
	default:
		return "unknown"
	}
}

func timed(fn func() int) (int, time.Duration) {
	startedAt := time.Now()
	exitCode := fn()
	return exitCode, time.Since(startedAt)
}

// recordEvent never changes the exit code; a failed write is reported on
// stderr and otherwise ignored.
func recordEvent(env environment, command string, exitCode int, elapsed time.Duration) {
	path := strings.TrimSpace(env.getenv(eventLogEnv))
	if path == "" {
		return
	}
	encoded, err := json.Marshal(commandEvent{
		Command:    command,
		ExitCode:   exitCode,
		DurationMS: elapsed.Milliseconds(),
		Version:    version,
		FinishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		err = fsx.AppendLine(path, encoded, 0o600)
	}
	if err != nil {
		_, _ = fmt.Fprintf(env.stderr, "ci-evidence-pack warning: event log write failed: %v\n", err)
	}
}
