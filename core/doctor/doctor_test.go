package doctor

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/OrygnsCode/ci-evidence-pack/internal/testutil"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func findCheck(t *testing.T, checks []Check, name string) Check {
	t.Helper()
	for _, check := range checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("missing check %s", name)
	return Check{}
}

func TestRunPassesWithAllToolsInstalled(t *testing.T) {
	workDir := t.TempDir()
	runner := &testutil.FakeRunner{Installed: map[string]bool{
		"git": true, "cosign": true, "cyclonedx-py": true, "syft": true, "python3": true,
	}}

	result := Run(Options{
		WorkDir:         workDir,
		ProducerVersion: "test",
		Runner:          runner,
		Getenv:          envOf(map[string]string{"SOURCE_DATE_EPOCH": "1700000000"}),
	})

	if result.Status != StatusPass {
		t.Fatalf("expected pass status, got %s (%#v)", result.Status, result.Checks)
	}
	if len(result.Checks) != 8 {
		t.Fatalf("unexpected checks count: %d", len(result.Checks))
	}
	if len(result.FixCommands) != 0 {
		t.Fatalf("expected no fix commands, got %#v", result.FixCommands)
	}
	if got := findCheck(t, result.Checks, "output_dir").Message; got != "output directory will be created by pack" {
		t.Fatalf("unexpected output_dir message: %s", got)
	}
	if got := findCheck(t, result.Checks, "source_date_epoch").Message; got != "SOURCE_DATE_EPOCH=1700000000" {
		t.Fatalf("unexpected source_date_epoch message: %s", got)
	}
}

func TestRunWarnsOnMissingOptionalTools(t *testing.T) {
	workDir := t.TempDir()
	result := Run(Options{
		WorkDir: workDir,
		Runner:  &testutil.FakeRunner{},
		Getenv:  envOf(map[string]string{"SOURCE_DATE_EPOCH": "yesterday"}),
	})

	if result.Status != StatusWarn {
		t.Fatalf("expected warn status, got %s", result.Status)
	}
	for _, name := range []string{"git", "cosign", "sbom_tools", "python", "source_date_epoch"} {
		if check := findCheck(t, result.Checks, name); check.Status != StatusWarn {
			t.Fatalf("expected %s to warn, got %s", name, check.Status)
		}
	}
	if result.ProducerVersion != "0.0.0-dev" {
		t.Fatalf("unexpected producer version: %s", result.ProducerVersion)
	}
	if !strings.Contains(result.Summary, "warned=5") {
		t.Fatalf("unexpected summary: %s", result.Summary)
	}
}

func TestRunFailsWhenOutputIsAFile(t *testing.T) {
	workDir := t.TempDir()
	outputPath := filepath.Join(workDir, "dist")
	if err := os.WriteFile(outputPath, []byte("x"), 0o600); err != nil {
		t.Fatalf("write output file: %v", err)
	}

	result := Run(Options{WorkDir: workDir, Runner: &testutil.FakeRunner{}, Getenv: envOf(nil)})
	if result.Status != StatusFail {
		t.Fatalf("expected fail status, got %s", result.Status)
	}
	if check := findCheck(t, result.Checks, "output_dir"); check.Message != "output path is not a directory" {
		t.Fatalf("unexpected output_dir check: %#v", check)
	}
}

func TestRunFailsOnMissingWorkDir(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "missing")
	result := Run(Options{WorkDir: workDir, Runner: &testutil.FakeRunner{}, Getenv: envOf(nil)})

	check := findCheck(t, result.Checks, "workdir")
	if check.Status != StatusFail || !strings.HasPrefix(check.FixCommand, "mkdir -p ") {
		t.Fatalf("unexpected workdir check: %#v", check)
	}
}

func TestRunFailsOnReadOnlyOutputDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}
	workDir := t.TempDir()
	outputDir := filepath.Join(workDir, "dist")
	if err := os.Mkdir(outputDir, 0o500); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(outputDir, 0o700) })

	result := Run(Options{WorkDir: workDir, Runner: &testutil.FakeRunner{}, Getenv: envOf(nil)})
	check := findCheck(t, result.Checks, "output_dir")
	if check.Status != StatusFail || !strings.HasPrefix(check.FixCommand, "chmod u+w ") {
		t.Fatalf("unexpected output_dir check: %#v", check)
	}
}

func TestShellQuote(t *testing.T) {
	if got := shellQuote(""); got != "''" {
		t.Fatalf("unexpected empty quote: %s", got)
	}
	if got := shellQuote("it's"); got != `'it'\''s'` {
		t.Fatalf("unexpected quote: %s", got)
	}
}
