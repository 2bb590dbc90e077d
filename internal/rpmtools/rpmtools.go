// Package rpmtools wraps the external RPM tooling (rpmdev-bumpspec, rpmbuild,
// mock, copr-cli). Every tool is run once per call; a non-zero exit is
// reported as a *ToolError and never retried.
package rpmtools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrToolFailed matches every *ToolError via errors.Is
var ErrToolFailed = errors.New("external tool failed")

// Default executable names
const (
	DefaultBumpSpec = "rpmdev-bumpspec"
	DefaultRPMBuild = "rpmbuild"
	DefaultMock     = "mock"
	DefaultCopr     = "copr-cli"
)

// ToolError describes a failed subprocess
type ToolError struct {
	Tool   string
	Args   []string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, out)
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolFailed, e.Err}
}

// run executes bin with args and returns its combined output
func run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), &ToolError{
			Tool:   bin,
			Args:   args,
			Output: string(output),
			Err:    err,
		}
	}
	return string(output), nil
}

// Available reports whether bin can be found in PATH (or is an existing path)
func Available(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}
