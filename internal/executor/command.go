// Package executor holds the three task executors (SQL scripts, remote shell
// scripts, HTTP calls) and the process/SSH plumbing they depend on.
package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Command is one local process invocation.
type Command struct {
	Name string
	Args []string
	// Capture collects combined stdout/stderr into CommandResult.Output
	// instead of streaming it to the runner's writers.
	Capture bool
}

type CommandResult struct {
	ExitCode int
	Output   string
}

// CommandRunner starts local processes. A non-zero exit is reported through
// ExitCode, not err; err means the process could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExecRunner runs commands with os/exec, streaming output to Stdout/Stderr
// so operators see scp/ssh progress live.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = nil

	var buf bytes.Buffer
	if c.Capture {
		cmd.Stdout = &buf
		cmd.Stderr = &buf
	} else {
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
	}

	err := cmd.Run()
	res := CommandResult{Output: buf.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, nil
	}
	return res, err
}
