//go:build integration

package tier1

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

const testSpec = `Name:           foo
Version:        0
Release:        1%{?dist}
Summary:        rpmsnap tier1 package

License:        MIT
URL:            https://example.com/foo
Source0:        foo-0.tar.gz

BuildArch:      noarch

%description
rpmsnap tier1 package.

%prep
%autosetup

%install

%files

%changelog
`

func TestTier1Prepare(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	if err := h.BuildBinary(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	h.WriteSettings("state:\n  backend: sqlite\n")
	h.WriteFile(filepath.Join(h.BaseDir, "specs", "foo.spec"), testSpec)
	h.WriteFile(filepath.Join(h.BaseDir, "tarballs", "foo-1.0.tar.gz"), "foo 1.0\n")
	h.WriteFile(filepath.Join(h.BaseDir, "tarballs", "foo-2.0.tar.gz"), "foo 2.0\n")
	writePackage(t, h, "1.0")

	t.Run("A_InitialPrepare", func(t *testing.T) {
		stdout, _ := h.MustRun(ctx, "prepare", "foo")
		t.Logf("stdout: %s", stdout)

		if !strings.Contains(stdout, "OK foo (prepare) initial") {
			t.Errorf("unexpected summary: %s", stdout)
		}
		if got := h.SpecTag("foo", "Version"); got != "1.0" {
			t.Errorf("Version = %q, want 1.0", got)
		}
		if got := h.SpecTag("foo", "Release"); got != "1%{?dist}" {
			t.Errorf("Release = %q, want 1%%{?dist}", got)
		}
		if !h.FileExists(filepath.Join("specs", "foo.spec.old")) {
			t.Error("backup of the canonical spec missing")
		}
		assertState(t, h, ctx, "rpm_last_release: 1")
	})

	t.Run("B_RerunIsNoOp", func(t *testing.T) {
		before := h.ReadFile(filepath.Join("specs", "foo.spec"))
		stdout, _ := h.MustRun(ctx, "prepare", "foo")

		if !strings.Contains(stdout, "noop") {
			t.Errorf("expected noop decision, got: %s", stdout)
		}
		if after := h.ReadFile(filepath.Join("specs", "foo.spec")); after != before {
			t.Error("canonical spec changed on a no-op run")
		}
	})

	t.Run("C_ForcedPackagingBump", func(t *testing.T) {
		h.MustRun(ctx, "prepare", "foo", "--force", "-m", "Rebuild for tier1")

		if got := h.SpecTag("foo", "Release"); got != "2%{?dist}" {
			t.Errorf("Release = %q, want 2%%{?dist}", got)
		}
		if !strings.Contains(h.ReadFile(filepath.Join("specs", "foo.spec")), "Rebuild for tier1") {
			t.Error("changelog message missing")
		}
		assertState(t, h, ctx, "rpm_last_release: 2")
	})

	t.Run("D_DryRunLeavesSpec", func(t *testing.T) {
		writePackage(t, h, "2.0")
		before := h.ReadFile(filepath.Join("specs", "foo.spec"))

		stdout, _ := h.MustRun(ctx, "prepare", "foo", "--dry-run")
		if !strings.Contains(stdout, "version-update") {
			t.Errorf("expected version-update decision, got: %s", stdout)
		}
		if after := h.ReadFile(filepath.Join("specs", "foo.spec")); after != before {
			t.Error("dry run modified the canonical spec")
		}
	})

	t.Run("E_VersionUpdateResetsRelease", func(t *testing.T) {
		h.MustRun(ctx, "prepare", "foo")

		if got := h.SpecTag("foo", "Version"); got != "2.0" {
			t.Errorf("Version = %q, want 2.0", got)
		}
		if got := h.SpecTag("foo", "Release"); got != "1%{?dist}" {
			t.Errorf("Release = %q, want 1%%{?dist}", got)
		}
		assertState(t, h, ctx, "rpm_last_version: 2.0")
	})

	t.Run("F_StateRemove", func(t *testing.T) {
		h.MustRun(ctx, "state", "remove", "foo")

		_, _, exitCode, err := h.Run(ctx, "state", "show", "foo")
		if err != nil {
			t.Fatalf("exec failed: %v", err)
		}
		if exitCode == 0 {
			t.Error("state show succeeded for a removed package")
		}
	})

	t.Run("G_UnknownPackageFails", func(t *testing.T) {
		stdout, _, exitCode, err := h.Run(ctx, "prepare", "foo", "bar")
		if err != nil {
			t.Fatalf("exec failed: %v", err)
		}
		if exitCode == 0 {
			t.Error("expected non-zero exit for unknown package")
		}
		if !strings.Contains(stdout, "FAIL bar") {
			t.Errorf("summary should report bar as failed: %s", stdout)
		}
	})
}

// writePackage writes the package configuration pointing at version's tarball
func writePackage(t *testing.T, h *Harness, version string) {
	t.Helper()
	h.WriteFile(filepath.Join(h.BaseDir, "configs", "foo.yaml"), `source:
  kind: local
  path: tarballs/foo-`+version+`.tar.gz
  version: "`+version+`"
`)
}

func assertState(t *testing.T, h *Harness, ctx context.Context, want string) {
	t.Helper()
	stdout, _ := h.MustRun(ctx, "state", "show", "foo")
	if !strings.Contains(stdout, want) {
		t.Errorf("state missing %q:\n%s", want, stdout)
	}
}
