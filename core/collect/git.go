// Package collect gathers optional build context for an evidence bundle:
// source-control state, installed dependencies, and CI run variables.
package collect

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

const gitBinary = "git"

// GitInfo is staged as metadata/git.json. Dirty is the string "true" or
// "false"; Describe is omitted when git has nothing to say.
type GitInfo struct {
	SHA       string `json:"sha"`
	Branch    string `json:"branch"`
	RemoteURL string `json:"remote_url"`
	Dirty     string `json:"dirty"`
	Describe  string `json:"describe,omitempty"`
}

type SourceControl interface {
	Collect(ctx context.Context, root string) (*GitInfo, error)
}

// Git reads repository state through the git CLI. Every command targets the
// repository with -C.
type Git struct {
	Runner tool.Runner
	Logger *slog.Logger
}

// Collect returns nil when git is missing, root is not a work tree, or HEAD
// does not resolve. Individual failing queries leave their field empty.
func (g Git) Collect(ctx context.Context, root string) (*GitInfo, error) {
	logger := loggerOrDiscard(g.Logger)
	if !tool.Available(g.Runner, gitBinary) {
		logger.Debug("git not found; skipping source-control metadata")
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(root, ".git")); err != nil {
		logger.Debug("no .git entry; skipping source-control metadata", "root", root)
		return nil, nil
	}

	sha, err := g.run(ctx, root, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	if sha == "" {
		return nil, nil
	}
	info := &GitInfo{SHA: sha}
	if info.Branch, err = g.run(ctx, root, "rev-parse", "--abbrev-ref", "HEAD"); err != nil {
		return nil, err
	}
	if info.RemoteURL, err = g.run(ctx, root, "config", "--get", "remote.origin.url"); err != nil {
		return nil, err
	}
	status, err := g.run(ctx, root, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	info.Dirty = "false"
	if status != "" {
		info.Dirty = "true"
	}
	if info.Describe, err = g.run(ctx, root, "describe", "--tags", "--always", "--dirty"); err != nil {
		return nil, err
	}
	return info, nil
}

// run returns trimmed stdout, or "" when git exits non-zero. Only runner
// faults such as timeouts are errors.
func (g Git) run(ctx context.Context, root string, args ...string) (string, error) {
	output, err := g.Runner.Run(ctx, tool.Command{
		Name: gitBinary,
		Args: append([]string{"-C", root}, args...),
	})
	if err != nil {
		return "", err
	}
	if output.ExitCode != 0 {
		loggerOrDiscard(g.Logger).Debug("git query failed", "args", strings.Join(args, " "), "exit_code", output.ExitCode)
		return "", nil
	}
	return strings.TrimSpace(output.Stdout), nil
}

func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
