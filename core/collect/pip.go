package collect

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

type Dependencies interface {
	Collect(ctx context.Context, root string) (string, bool)
}

var pythonMarkers = []string{"pyproject.toml", "setup.py", "requirements.txt"}

// PythonBinaries are tried in order for pip freeze.
var PythonBinaries = []string{"python3", "python"}

// PipFreeze lists installed Python packages for Python projects only.
type PipFreeze struct {
	Runner tool.Runner
	Logger *slog.Logger
}

// Collect returns the sorted `pip freeze` lines joined by newlines with a
// trailing newline, or false when root is not a Python project or pip fails.
func (p PipFreeze) Collect(ctx context.Context, root string) (string, bool) {
	logger := loggerOrDiscard(p.Logger)
	if !IsPythonProject(root) {
		logger.Debug("no python project detected; skipping pip freeze", "root", root)
		return "", false
	}
	for _, interpreter := range PythonBinaries {
		if !tool.Available(p.Runner, interpreter) {
			continue
		}
		output, err := p.Runner.Run(ctx, tool.Command{
			Name: interpreter,
			Args: []string{"-m", "pip", "freeze"},
			Dir:  root,
		})
		if err != nil || output.ExitCode != 0 {
			logger.Debug("pip freeze failed", "interpreter", interpreter, "error", err, "exit_code", output.ExitCode)
			return "", false
		}
		return sortedLines(output.Stdout), true
	}
	logger.Debug("no python interpreter found; skipping pip freeze")
	return "", false
}

// IsPythonProject looks for packaging markers or a .py file at the repo root.
func IsPythonProject(root string) bool {
	for _, marker := range pythonMarkers {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return true
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".py") {
			return true
		}
	}
	return false
}

func sortedLines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	slices.Sort(lines)
	return strings.Join(lines, "\n") + "\n"
}
