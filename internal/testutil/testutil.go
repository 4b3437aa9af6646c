package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

// BuildCLIBinary compiles ./cmd/ci-evidence-pack into a temp dir.
func BuildCLIBinary(t *testing.T, root string) string {
	t.Helper()
	binDir := t.TempDir()
	binName := "ci-evidence-pack"
	if runtime.GOOS == "windows" {
		binName += ".exe"
	}
	binPath := filepath.Join(binDir, binName)

	// #nosec G204 -- arguments are fixed and used only in test binaries.
	build := exec.Command("go", "build", "-o", binPath, "./cmd/ci-evidence-pack")
	build.Dir = root
	if out, err := build.CombinedOutput(); err != nil {
		t.Fatalf("build ci-evidence-pack binary: %v\n%s", err, string(out))
	}
	return binPath
}

func CommandExitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected command exit error, got: %v", err)
	}
	return exitErr.ExitCode()
}

// CLIResult is the captured outcome of one CLI invocation.
type CLIResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// RunCLI executes binPath in workDir with env appended to the current
// environment and fails the test when the exit code differs from expected.
func RunCLI(t *testing.T, binPath, workDir string, env []string, expected int, arguments ...string) CLIResult {
	t.Helper()
	// #nosec G204 -- binPath is built by the test itself.
	command := exec.Command(binPath, arguments...)
	command.Dir = workDir
	command.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	result := CLIResult{}
	if err := command.Run(); err != nil {
		result.ExitCode = CommandExitCode(t, err)
	}
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	if result.ExitCode != expected {
		t.Fatalf("run %s exit code mismatch: got=%d want=%d\nstdout:\n%s\nstderr:\n%s",
			strings.Join(arguments, " "), result.ExitCode, expected, result.Stdout, result.Stderr)
	}
	return result
}

// WriteSampleRepo lays out the small workspace most pack tests include:
// file1.txt and subdir/file2.txt.
func WriteSampleRepo(t *testing.T, root string) {
	t.Helper()
	WriteFile(t, filepath.Join(root, "file1.txt"), []byte("hello"))
	WriteFile(t, filepath.Join(root, "subdir", "file2.txt"), []byte("world"))
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func AssertGoldenJSON(t *testing.T, repoRelativePath string, value any) {
	t.Helper()
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden json: %v", err)
	}
	encoded = append(encoded, '\n')

	goldenPath := filepath.Join(RepoRoot(t), filepath.FromSlash(repoRelativePath))
	if os.Getenv("UPDATE_GOLDEN") == "1" {
		if err := os.MkdirAll(filepath.Dir(goldenPath), 0o750); err != nil {
			t.Fatalf("create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, encoded, 0o600); err != nil {
			t.Fatalf("update golden fixture: %v", err)
		}
		return
	}

	// #nosec G304 -- path is resolved from repo root plus test-owned relative fixture.
	expected, err := os.ReadFile(goldenPath)
	if err != nil {
		t.Fatalf("read golden fixture %s: %v", goldenPath, err)
	}
	if bytes.Equal(normalizeNewlines(expected), encoded) {
		return
	}

	t.Fatalf(
		"golden mismatch for %s\nexpected:\n%s\nactual:\n%s\nset UPDATE_GOLDEN=1 to refresh fixtures",
		goldenPath,
		string(expected),
		string(encoded),
	)
}

func WriteGoldenJSON(t *testing.T, repoRelativePath string, value any) {
	t.Helper()
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		t.Fatalf("marshal golden json: %v", err)
	}
	encoded = append(encoded, '\n')
	fullPath := filepath.Join(RepoRoot(t), filepath.FromSlash(repoRelativePath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		t.Fatalf("create golden fixture directory: %v", err)
	}
	if err := os.WriteFile(fullPath, encoded, 0o600); err != nil {
		t.Fatalf("write golden fixture: %v", err)
	}
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}

// normalizeNewlines lets golden files checked out with CRLF endings compare
// equal to freshly encoded output.
func normalizeNewlines(raw []byte) []byte {
	return bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
}
