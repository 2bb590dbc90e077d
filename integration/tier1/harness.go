//go:build integration

package tier1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const defaultTimeout = 5 * time.Minute

// requiredTools must be installed on the host; tests are skipped otherwise
var requiredTools = []string{"go", "rpmbuild", "rpmdev-bumpspec"}

// Harness builds the rpmsnap binary and runs it against a private base
// directory with the real rpm tooling
type Harness struct {
	t       *testing.T
	bin     string
	BaseDir string
	config  string
	env     []string
}

// NewHarness creates a new test harness, skipping the test if a required
// tool is missing
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	for _, tool := range requiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}

	home := t.TempDir()
	base := filepath.Join(home, "rpmsnap")
	return &Harness{
		t:       t,
		BaseDir: base,
		config:  filepath.Join(home, "config.yaml"),
		env: append(os.Environ(),
			"HOME="+home,
			"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		),
	}
}

// BuildBinary compiles cmd/rpmsnap into a temporary directory
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.bin = filepath.Join(h.t.TempDir(), "rpmsnap")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.bin, "./cmd/rpmsnap")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}

	h.t.Logf("Binary %s built successfully", h.bin)
	return nil
}

// WriteSettings writes the global config file used by every Run
func (h *Harness) WriteSettings(extra string) {
	h.t.Helper()
	content := fmt.Sprintf("basedir: %s\npackager: Integration Test <test@example.com>\n%s", h.BaseDir, extra)
	h.WriteFile(h.config, content)
}

// Run executes rpmsnap with args
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.bin == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	full := append([]string{"--config", h.config, "--env-file", ""}, args...)
	cmd := exec.CommandContext(ctx, h.bin, full...)
	cmd.Env = h.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes rpmsnap and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file, creating parent directories
func (h *Harness) WriteFile(path, content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// ReadFile reads a file below the base directory
func (h *Harness) ReadFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.BaseDir, rel))
	if err != nil {
		h.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// FileExists checks if a file exists below the base directory
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Stat(filepath.Join(h.BaseDir, rel))
	return err == nil
}

// SpecTag returns the value of tag in the canonical spec of conf
func (h *Harness) SpecTag(conf, tag string) string {
	h.t.Helper()
	for _, line := range strings.Split(h.ReadFile(filepath.Join("specs", conf+".spec")), "\n") {
		if value, ok := strings.CutPrefix(line, tag+":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)

// findProjectRoot walks up the directory tree from the current file to find go.mod
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)

	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
