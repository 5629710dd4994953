// Package command isolates external process execution behind a single
// injectable interface. Backend drivers and the image resolver run every
// external tool through a Runner, so tests can simulate exit codes and
// command output without invoking real binaries.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes external commands. Run is used for one-shot mutating
// commands where only success/failure matters; Output is used for queries
// whose stdout must be parsed.
type Runner interface {
	// Run executes the command and waits for it to exit.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes the command and returns its stdout. The returned
	// bytes may be non-empty even when err is non-nil; some tools exit
	// nonzero while still printing a usable report.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s: %w: %s", name, err, stderr.String())
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
