package testutil

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/OrygnsCode/ci-evidence-pack/core/tool"
)

func TestNormalizeNewlines(t *testing.T) {
	input := []byte("{\r\n  \"ok\": true\r\n}\r\n")
	expected := []byte("{\n  \"ok\": true\n}\n")

	actual := normalizeNewlines(input)
	if !bytes.Equal(actual, expected) {
		t.Fatalf("unexpected newline normalization: got=%q want=%q", string(actual), string(expected))
	}
}

func TestRepoRootContainsGoMod(t *testing.T) {
	root := RepoRoot(t)
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("expected go.mod at repo root: %v", err)
	}
}

func TestBuildCLIBinary(t *testing.T) {
	root := RepoRoot(t)
	binPath := BuildCLIBinary(t, root)
	info, err := os.Stat(binPath)
	if err != nil {
		t.Fatalf("expected built binary to exist: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty binary at %s", binPath)
	}

	result := RunCLI(t, binPath, t.TempDir(), nil, 0, "version")
	if !strings.HasPrefix(string(result.Stdout), "ci-evidence-pack v") {
		t.Fatalf("unexpected version output: %q", result.Stdout)
	}
	if unknown := RunCLI(t, binPath, t.TempDir(), nil, 1, "nope"); len(unknown.Stderr) == 0 {
		t.Fatalf("expected usage on stderr for unknown command")
	}
}

func TestWriteSampleRepo(t *testing.T) {
	root := t.TempDir()
	WriteSampleRepo(t, root)
	if got := string(MustReadFile(t, filepath.Join(root, "file1.txt"))); got != "hello" {
		t.Fatalf("unexpected file1.txt: %q", got)
	}
	if got := string(MustReadFile(t, filepath.Join(root, "subdir", "file2.txt"))); got != "world" {
		t.Fatalf("unexpected subdir/file2.txt: %q", got)
	}
}

func TestWriteFileAndMustReadFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "output.json")
	WriteFile(t, target, []byte(`{"ok":true}`))
	got := MustReadFile(t, target)
	if string(got) != `{"ok":true}` {
		t.Fatalf("unexpected file content: %q", string(got))
	}
}

func TestFormatJSON(t *testing.T) {
	formatted := FormatJSON([]byte(`{"ok":true}`))
	if !strings.Contains(formatted, "\"ok\": true") {
		t.Fatalf("expected pretty-printed json, got=%q", formatted)
	}

	raw := "not-json"
	if got := FormatJSON([]byte(raw)); got != raw {
		t.Fatalf("expected raw passthrough for invalid json, got=%q", got)
	}
}

func TestCommandExitCode(t *testing.T) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command("cmd", "/c", "exit 7")
	} else {
		cmd = exec.Command("sh", "-c", "exit 7")
	}
	err := cmd.Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if code := CommandExitCode(t, err); code != 7 {
		t.Fatalf("unexpected exit code: got=%d want=7", code)
	}
}

func TestGoldenHelpersRoundTrip(t *testing.T) {
	repoRoot := RepoRoot(t)
	name := strings.ReplaceAll(strings.ToLower(t.Name()), "/", "_")
	relativePath := filepath.Join(
		"internal",
		"testutil",
		"testdata",
		"tmp_"+name+"_"+time.Now().UTC().Format("20060102150405")+".json",
	)
	fullPath := filepath.Join(repoRoot, relativePath)
	t.Cleanup(func() {
		_ = os.Remove(fullPath)
		_ = os.Remove(filepath.Dir(fullPath))
	})

	payload := map[string]any{"ok": true, "count": 1}
	WriteGoldenJSON(t, relativePath, payload)
	AssertGoldenJSON(t, relativePath, payload)

	t.Setenv("UPDATE_GOLDEN", "1")
	AssertGoldenJSON(t, relativePath, map[string]any{"ok": true, "count": 2})
}

func TestFakeRunnerRecordsCalls(t *testing.T) {
	runner := &FakeRunner{
		Installed: map[string]bool{"git": true},
		Handler: func(command tool.Command) (tool.Output, error) {
			return tool.Output{Stdout: "main\n"}, nil
		},
	}
	if _, err := runner.LookPath("cosign"); !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing tool, got %v", err)
	}
	output, err := runner.Run(context.Background(), tool.Command{Name: "git", Args: []string{"rev-parse", "HEAD"}})
	if err != nil || output.Stdout != "main\n" {
		t.Fatalf("unexpected run result: %#v %v", output, err)
	}
	if _, err := runner.Run(context.Background(), tool.Command{Name: "syft"}); !errors.Is(err, tool.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for uninstalled run, got %v", err)
	}
	if calls := runner.CallsTo("git"); len(calls) != 1 {
		t.Fatalf("expected one git call, got %d", len(calls))
	}
	if calls := runner.Calls(); len(calls) != 2 {
		t.Fatalf("expected two recorded calls, got %#v", calls)
	}
}
