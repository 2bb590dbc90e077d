package construct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schaermu/rpmsnap/internal/app"
	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/metrics"
	"github.com/schaermu/rpmsnap/internal/reconcile"
	"github.com/schaermu/rpmsnap/internal/rpmtools"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/specfile"
	"github.com/schaermu/rpmsnap/internal/state"
	"github.com/schaermu/rpmsnap/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBuilder writes an empty SRPM named after the spec's version and release
type fakeBuilder struct {
	err  error
	last rpmtools.SRPMInfo
	runs int
}

func (b *fakeBuilder) BuildSRPM(_ context.Context, topDir, specPath string) (string, error) {
	b.runs++
	if b.err != nil {
		return "", b.err
	}
	doc, err := specfile.Load(specPath)
	if err != nil {
		return "", err
	}
	version, _ := doc.Version()
	release, _ := doc.Release()
	release = strings.Replace(release, "%{?dist}", ".fc40", 1)
	b.last = rpmtools.SRPMInfo{Name: "foo", Version: version, Release: release}

	path := filepath.Join(topDir, "SRPMS", fmt.Sprintf("foo-%s-%s.src.rpm", version, release))
	if err := os.WriteFile(path, []byte("srpm"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// mockPublisher is a mock implementation of rpmtools.Rebuilder and rpmtools.Uploader
type mockPublisher struct {
	rebuilt  []string
	uploaded []string
}

func (m *mockPublisher) Rebuild(_ context.Context, srpm string, chroots []string, _ string) error {
	m.rebuilt = append(m.rebuilt, srpm+"@"+strings.Join(chroots, ","))
	return nil
}

func (m *mockPublisher) Upload(_ context.Context, srpm, repo string, _ []string, _ bool) error {
	m.uploaded = append(m.uploaded, repo+":"+srpm)
	return nil
}

type fixture struct {
	app       *app.Context
	orch      *Orchestrator
	bumper    *testutil.FakeBumper
	builder   *fakeBuilder
	publisher *mockPublisher
	pkg       *config.Package
	specPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	settings := &config.Settings{
		BaseDir: base,
		State:   config.StateSettings{Backend: state.BackendJSON, Path: filepath.Join(base, "state.json")},
	}

	specPath := settings.SpecPath("foo")
	if err := os.MkdirAll(filepath.Dir(specPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(specPath, []byte(testutil.SpecTemplate), 0644); err != nil {
		t.Fatal(err)
	}

	tarballs := filepath.Join(base, "tarballs")
	if err := os.MkdirAll(tarballs, 0755); err != nil {
		t.Fatal(err)
	}
	for _, v := range []string{"1.0", "2.0"} {
		if err := os.WriteFile(filepath.Join(tarballs, "foo-"+v+".tar.gz"), []byte("foo "+v), 0644); err != nil {
			t.Fatal(err)
		}
	}

	bumper := &testutil.FakeBumper{}
	builder := &fakeBuilder{}
	publisher := &mockPublisher{}
	c := &app.Context{
		Settings: settings,
		Logger:   testLogger(),
		Store:    state.NewJSONStore(settings.State.Path),
		Tools: app.Tools{
			Bumper:  bumper,
			Builder: builder,
			Mock:    publisher,
			Copr:    publisher,
		},
		Formatters: sourcefmt.DefaultTable(),
		Metrics:    metrics.NoopRecorder{},
	}

	orch := New(c)
	orch.inspect = func(string) (rpmtools.SRPMInfo, error) { return builder.last, nil }
	orch.newID = func() string { return "run" }

	pkg := &config.Package{
		ConfName: "foo",
		Name:     "foo",
		Source:   config.SourceConfig{Kind: sourcefmt.KindLocal, Path: "tarballs/foo-1.0.tar.gz", Version: "1.0"},
		Build:    config.BuildConfig{Chroots: []string{"fedora-rawhide-x86_64"}},
		Upload:   config.UploadConfig{Copr: "user/foo", Chroots: []string{"fedora-rawhide-x86_64"}},
	}

	return &fixture{
		app:       c,
		orch:      orch,
		bumper:    bumper,
		builder:   builder,
		publisher: publisher,
		pkg:       pkg,
		specPath:  specPath,
	}
}

func (f *fixture) spec(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.specPath)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func (f *fixture) facts(t *testing.T) state.Facts {
	t.Helper()
	facts, err := f.app.Store.Read(context.Background(), "foo")
	if err != nil {
		t.Fatal(err)
	}
	return facts
}

func TestPrepareNewPackage(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Prepare(context.Background(), f.pkg, Options{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if diff := cmp.Diff([]reconcile.Case{reconcile.CaseInitial}, res.Decision.Cases()); diff != "" {
		t.Errorf("cases mismatch (-want +got):\n%s", diff)
	}
	wantSRPM := filepath.Join(f.app.Settings.PackagesDir(), "foo-1.0-1.fc40.src.rpm")
	if res.SRPM != wantSRPM {
		t.Errorf("SRPM = %s, want %s", res.SRPM, wantSRPM)
	}
	if _, err := os.Stat(wantSRPM); err != nil {
		t.Errorf("srpm not stored: %v", err)
	}

	facts := f.facts(t)
	want := map[string]string{
		state.KeySourceVersion:      "1.0",
		state.KeySourceFiles:        `["foo-1.0.tar.gz"]`,
		state.KeyRPMLastVersion:     "1.0",
		state.KeyRPMLastBaseVersion: "1.0",
		state.KeyRPMLastRelease:     "1%{?dist}",
		state.KeySRPMLastFile:       wantSRPM,
	}
	for k, v := range want {
		if facts[k] != v {
			t.Errorf("fact %s = %q, want %q", k, facts[k], v)
		}
	}
	if facts["source_sha256"] == "" {
		t.Error("source checksum not recorded")
	}

	if !strings.Contains(f.spec(t), "Version:        1.0\n") {
		t.Errorf("canonical spec not updated:\n%s", f.spec(t))
	}
	if _, err := os.Stat(filepath.Join(f.app.Settings.BuildDir(), "foo-run")); !os.IsNotExist(err) {
		t.Error("build root not removed")
	}
}

func TestPrepareRerunIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.orch.Prepare(ctx, f.pkg, Options{}); err != nil {
		t.Fatal(err)
	}
	before := f.spec(t)
	beforeFacts := f.facts(t)

	res, err := f.orch.Prepare(ctx, f.pkg, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]reconcile.Case{reconcile.CaseNoOp}, res.Decision.Cases()); diff != "" {
		t.Errorf("cases mismatch (-want +got):\n%s", diff)
	}
	if res.Changed {
		t.Error("no-op run reported a change")
	}
	if len(f.bumper.Calls) != 1 {
		t.Errorf("bump tool ran %d times", len(f.bumper.Calls))
	}
	if diff := cmp.Diff(before, f.spec(t)); diff != "" {
		t.Errorf("spec changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(beforeFacts, f.facts(t)); diff != "" {
		t.Errorf("state changed (-before +after):\n%s", diff)
	}
}

func TestPrepareForcedAndVersionUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.orch.Prepare(ctx, f.pkg, Options{}); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.Prepare(ctx, f.pkg, Options{Force: true, Message: "Rebuilt with fixed BuildRequires."})
	if err != nil {
		t.Fatal(err)
	}
	if res.Release != "2%{?dist}" {
		t.Errorf("forced release = %s", res.Release)
	}

	f.pkg.Source.Version = "2.0"
	f.pkg.Source.Path = "tarballs/foo-2.0.tar.gz"
	res, err = f.orch.Prepare(ctx, f.pkg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]reconcile.Case{reconcile.CaseVersionUpdate}, res.Decision.Cases()); diff != "" {
		t.Errorf("cases mismatch (-want +got):\n%s", diff)
	}
	if res.Version != "2.0" || res.Release != "1%{?dist}" {
		t.Errorf("unexpected result %+v", res)
	}

	want := []string{reconcile.MessageInitial, "Rebuilt with fixed BuildRequires.", "Update to version 2.0."}
	if diff := cmp.Diff(want, f.bumper.Comments()); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
	if got := f.facts(t)[state.KeySourceFiles]; got != `["foo-2.0.tar.gz"]` {
		t.Errorf("source_files = %s", got)
	}
}

func TestPrepareBuildFailureLeavesSpecAndState(t *testing.T) {
	f := newFixture(t)
	f.builder.err = &rpmtools.ToolError{Tool: "rpmbuild", Err: errors.New("exit status 1"), Output: "error: Bad source"}

	_, err := f.orch.Prepare(context.Background(), f.pkg, Options{})
	if !errors.Is(err, rpmtools.ErrToolFailed) {
		t.Fatalf("expected ErrToolFailed, got %v", err)
	}

	if diff := cmp.Diff(testutil.SpecTemplate, f.spec(t)); diff != "" {
		t.Errorf("canonical spec modified (-want +got):\n%s", diff)
	}
	if len(f.facts(t)) != 0 {
		t.Errorf("state written after failure: %v", f.facts(t))
	}
}

func TestPrepareVerifyMismatch(t *testing.T) {
	f := newFixture(t)
	f.orch.inspect = func(string) (rpmtools.SRPMInfo, error) {
		return rpmtools.SRPMInfo{Name: "foo", Version: "0.9", Release: "1.fc40"}, nil
	}

	if _, err := f.orch.Prepare(context.Background(), f.pkg, Options{}); err == nil {
		t.Fatal("expected verification error")
	}
	if diff := cmp.Diff(testutil.SpecTemplate, f.spec(t)); diff != "" {
		t.Errorf("canonical spec modified (-want +got):\n%s", diff)
	}
}

func TestPrepareDryRun(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Prepare(context.Background(), f.pkg, Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || res.SRPM != "" {
		t.Errorf("unexpected dry-run result %+v", res)
	}
	if f.builder.runs != 0 {
		t.Error("dry run built an srpm")
	}
	if diff := cmp.Diff(testutil.SpecTemplate, f.spec(t)); diff != "" {
		t.Errorf("canonical spec modified (-want +got):\n%s", diff)
	}
	if len(f.facts(t)) != 0 {
		t.Error("dry run wrote state")
	}
}

func TestPrepareKeepBuildRoot(t *testing.T) {
	f := newFixture(t)
	f.app.Settings.Build.KeepBuildRoot = true

	if _, err := f.orch.Prepare(context.Background(), f.pkg, Options{}); err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(f.app.Settings.BuildDir(), "foo-run")
	data, err := os.ReadFile(filepath.Join(root, "SPECS", "foo.spec"))
	if err != nil {
		t.Fatalf("work spec not kept: %v", err)
	}
	if !strings.Contains(string(data), "Release:        1%{?dist}") {
		t.Errorf("unexpected work spec:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(root, "SOURCES", "foo-1.0.tar.gz")); err != nil {
		t.Errorf("exported source missing: %v", err)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.Get(context.Background(), f.pkg, false); err != nil {
		t.Fatalf("Get: %v", err)
	}

	facts := f.facts(t)
	if facts[state.KeySourceVersion] != "1.0" {
		t.Errorf("source_version = %q, want 1.0", facts[state.KeySourceVersion])
	}
	if facts["source_sha256"] == "" {
		t.Error("source checksum not recorded")
	}
	if _, ok := facts[state.KeyRPMLastVersion]; ok {
		t.Error("get must not record a build")
	}
	if diff := cmp.Diff(testutil.SpecTemplate, f.spec(t)); diff != "" {
		t.Errorf("canonical spec modified (-want +got):\n%s", diff)
	}

	// a later prepare still treats the package as new
	res, err := f.orch.Prepare(context.Background(), f.pkg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]reconcile.Case{reconcile.CaseInitial}, res.Decision.Cases()); diff != "" {
		t.Errorf("cases mismatch (-want +got):\n%s", diff)
	}
}

func TestGetFailureAndDryRun(t *testing.T) {
	f := newFixture(t)
	f.app.DryRun = true
	if err := f.orch.Get(context.Background(), f.pkg, false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(f.facts(t)) != 0 {
		t.Error("dry run wrote state")
	}

	f.app.DryRun = false
	f.pkg.Source.Path = "tarballs/missing.tar.gz"
	if err := f.orch.Get(context.Background(), f.pkg, false); err == nil {
		t.Fatal("expected error for missing source")
	}
	if len(f.facts(t)) != 0 {
		t.Error("failed get wrote state")
	}
}

func TestPrepareRerolledTarballIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.orch.Prepare(ctx, f.pkg, Options{}); err != nil {
		t.Fatal(err)
	}
	before := f.spec(t)
	oldSum := f.facts(t)["source_sha256"]

	// same version and file name, different bytes
	tarball := filepath.Join(f.app.Settings.BaseDir, "tarballs", "foo-1.0.tar.gz")
	if err := os.WriteFile(tarball, []byte("foo 1.0 re-rolled"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := f.orch.Prepare(ctx, f.pkg, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]reconcile.Case{reconcile.CaseNoOp}, res.Decision.Cases()); diff != "" {
		t.Errorf("cases mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{reconcile.MessageInitial}, f.bumper.Comments()); diff != "" {
		t.Errorf("comments mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, f.spec(t)); diff != "" {
		t.Errorf("spec changed (-before +after):\n%s", diff)
	}
	if f.facts(t)["source_sha256"] == oldSum {
		t.Error("new checksum not recorded")
	}
}

func TestBuildAndUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.orch.Build(ctx, f.pkg); err == nil {
		t.Fatal("expected error before prepare")
	}

	res, err := f.orch.Prepare(ctx, f.pkg, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Build(ctx, f.pkg); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{res.SRPM + "@fedora-rawhide-x86_64"}, f.publisher.rebuilt); diff != "" {
		t.Errorf("rebuilds mismatch (-want +got):\n%s", diff)
	}

	if err := f.orch.Upload(ctx, f.pkg); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if diff := cmp.Diff([]string{"user/foo:" + res.SRPM}, f.publisher.uploaded); diff != "" {
		t.Errorf("uploads mismatch (-want +got):\n%s", diff)
	}

	f.pkg.Upload.Copr = ""
	if err := f.orch.Upload(ctx, f.pkg); err == nil {
		t.Error("expected error without copr repository")
	}

	f.app.DryRun = true
	f.pkg.Upload.Copr = "user/foo"
	if err := f.orch.Upload(ctx, f.pkg); err != nil {
		t.Fatal(err)
	}
	if len(f.publisher.uploaded) != 1 {
		t.Error("dry run uploaded")
	}
}
