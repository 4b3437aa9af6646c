// Package tool wraps the external binaries the evidence pipeline delegates
// to. Every call goes through a Runner so tests can substitute a fake.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds any single delegated command.
const DefaultTimeout = 10 * time.Minute

var ErrNotFound = errors.New("executable not found")

type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output carries the captured streams. A non-zero ExitCode is not an error.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type Runner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, command Command) (Output, error)
}

// ExecRunner runs real processes. Timeout applies when a Command sets none.
type ExecRunner struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

func (r ExecRunner) LookPath(name string) (string, error) {
	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return resolved, nil
}

func (r ExecRunner) Run(ctx context.Context, command Command) (Output, error) {
	if strings.TrimSpace(command.Name) == "" {
		return Output{}, fmt.Errorf("missing command")
	}
	timeout := command.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Debug("running command", "command", command.String(), "dir", command.Dir)

	// #nosec G204 -- delegated tools are fixed binaries with argument vectors built by this package.
	process := exec.CommandContext(ctx, command.Name, command.Args...)
	process.Dir = strings.TrimSpace(command.Dir)
	if len(command.Env) > 0 {
		process.Env = append(os.Environ(), command.Env...)
	}
	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	process.Stdout = &stdoutBuf
	process.Stderr = &stderrBuf

	err := process.Run()
	if ctx.Err() != nil {
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Output{}, fmt.Errorf("%s timed out after %s: %w", command.Name, timeout, ctx.Err())
		}
		return Output{}, fmt.Errorf("%s interrupted: %w", command.Name, ctx.Err())
	}
	exitCode := 0
	if err != nil {
		exitErr := &exec.ExitError{}
		if !errors.As(err, &exitErr) {
			if errors.Is(err, exec.ErrNotFound) {
				return Output{}, fmt.Errorf("%w: %s", ErrNotFound, command.Name)
			}
			return Output{}, fmt.Errorf("run %s: %w", command.Name, err)
		}
		exitCode = exitErr.ExitCode()
		logger.Debug("command failed", "command", command.Name, "exit_code", exitCode, "stderr", strings.TrimSpace(stderrBuf.String()))
	}
	return Output{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}, nil
}

// Available reports whether name resolves through runner.
func Available(runner Runner, name string) bool {
	_, err := runner.LookPath(name)
	return err == nil
}
