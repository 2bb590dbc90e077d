// Package construct turns a package configuration into a source RPM: it
// fetches sources, reconciles the spec file, builds and verifies the SRPM and
// records the new package state.
package construct

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/schaermu/rpmsnap/internal/app"
	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/git"
	"github.com/schaermu/rpmsnap/internal/reconcile"
	"github.com/schaermu/rpmsnap/internal/rpmtools"
	"github.com/schaermu/rpmsnap/internal/source"
	"github.com/schaermu/rpmsnap/internal/state"
)

// Options tune a prepare run
type Options struct {
	// Force requests a packaging-only release bump
	Force bool
	// Message replaces the changelog text of initial and packaging bumps
	Message string
	// Refetch downloads sources again even if present
	Refetch bool
	// DryRun stops after the decision; nothing is built or committed
	DryRun bool
}

// Result describes a prepared package
type Result struct {
	Package  string
	Decision reconcile.Decision
	Version  string
	Release  string
	// SRPM is the copy in the packages directory
	SRPM    string
	Changed bool
	DryRun  bool
}

// Orchestrator runs the per-package actions
type Orchestrator struct {
	app    *app.Context
	engine *reconcile.Engine
	logger *slog.Logger

	newGit  func(auth config.AuthConfig) git.Client
	inspect func(path string) (rpmtools.SRPMInfo, error)
	newID   func() string
	now     func() time.Time
}

// New creates an orchestrator working on the given process context
func New(c *app.Context) *Orchestrator {
	return &Orchestrator{
		app:     c,
		engine:  reconcile.NewEngine(c.Tools.Bumper, c.Logger),
		logger:  c.Logger,
		inspect: rpmtools.InspectSRPM,
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
}

func (o *Orchestrator) source(pkg *config.Package) (source.Source, error) {
	opts := source.Options{
		Package: pkg,
		WorkDir: o.app.Settings.SourcesDir(pkg.ConfName),
		BaseDir: o.app.Settings.BaseDir,
		HTTP:    o.app.HTTP,
		Logger:  o.logger.With("package", pkg.ConfName),
	}
	if o.newGit != nil {
		opts.Git = o.newGit(pkg.Auth)
	}
	return source.New(opts)
}

// Get fetches the package sources and records their status. The first
// successful get creates the state record; the spec is not touched.
func (o *Orchestrator) Get(ctx context.Context, pkg *config.Package, force bool) error {
	src, err := o.source(pkg)
	if err != nil {
		return err
	}
	if err := src.Get(ctx, force); err != nil {
		return err
	}
	facts, err := src.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read source status: %w", err)
	}
	facts[state.KeySourceVersion] = pkg.Source.Version
	o.logger.Info("sources fetched", "package", pkg.ConfName, "kind", src.Kind(), "facts", facts)

	if o.app.DryRun {
		o.logger.Info("[dry-run] would record source state", "package", pkg.ConfName)
		return nil
	}
	return o.app.Store.Write(ctx, pkg.ConfName, facts)
}

// Prepare reconciles the spec and builds the source RPM
func (o *Orchestrator) Prepare(ctx context.Context, pkg *config.Package, opts Options) (*Result, error) {
	conf := pkg.ConfName
	logger := o.logger.With("package", conf)
	logger.Info("preparing package", "kind", pkg.Source.Kind, "force", opts.Force, "dry_run", opts.DryRun)

	prev, err := o.app.Store.Read(ctx, conf)
	if err != nil {
		return nil, err
	}

	src, err := o.source(pkg)
	if err != nil {
		return nil, err
	}
	if err := src.Get(ctx, opts.Refetch); err != nil {
		return nil, err
	}
	srcFacts, err := src.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source status: %w", err)
	}

	formatter, err := o.app.Formatters.Lookup(src.Kind())
	if err != nil {
		return nil, err
	}
	in := pkg.FormatterInput()
	in.Facts = srcFacts
	version, err := formatter.Version(in)
	if err != nil {
		return nil, fmt.Errorf("failed to format version: %w", err)
	}

	root, err := o.createBuildRoot(conf)
	if err != nil {
		return nil, err
	}
	if !o.app.Settings.Build.KeepBuildRoot {
		defer func() {
			if err := os.RemoveAll(root); err != nil {
				logger.Warn("failed to remove build root", "path", root, "error", err)
			}
		}()
	} else {
		logger.Info("keeping build root", "path", root)
	}

	files, err := src.Export(ctx, filepath.Join(root, "SOURCES"), version)
	if err != nil {
		return nil, fmt.Errorf("failed to export sources: %w", err)
	}

	next := srcFacts.Clone()
	next[state.KeySourceVersion] = pkg.Source.Version
	next[state.KeySourceFiles] = state.EncodeList(files)
	// only a changed file list counts as new sources; checksums alone do not
	sourcesUpdated := prev[state.KeySourceFiles] != next[state.KeySourceFiles]

	req := reconcile.Request{
		SpecPath:       o.app.Settings.SpecPath(conf),
		WorkPath:       filepath.Join(root, "SPECS", pkg.Name+".spec"),
		Formatter:      formatter,
		Source:         in,
		OldVersion:     prev[state.KeyRPMLastVersion],
		OldBaseVersion: prev[state.KeyRPMLastBaseVersion],
		SourcesUpdated: sourcesUpdated,
		Force:          opts.Force,
		Message:        opts.Message,
	}
	if req.OldVersion != "" {
		req.OldRelease = prev[state.KeyRPMLastRelease]
	}

	out, err := o.engine.Reconcile(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, c := range out.Decision.Cases() {
		o.app.Metrics.IncReleaseCase(string(c))
	}

	result := &Result{
		Package:  conf,
		Decision: out.Decision,
		Version:  out.Version,
		Release:  out.Release,
		Changed:  out.Changed,
		DryRun:   opts.DryRun,
	}

	if opts.DryRun {
		logger.Info("[dry-run] release decision",
			"cases", out.Decision.Cases(),
			"version", out.Version,
			"release", out.Release,
			"changed", out.Changed)
		return result, nil
	}

	srpm, err := o.app.Tools.Builder.BuildSRPM(ctx, root, req.WorkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build source rpm: %w", err)
	}
	info, err := o.inspect(srpm)
	if err != nil {
		return nil, err
	}
	if err := info.Verify(out.Version, out.Release); err != nil {
		return nil, err
	}
	logger.Info("source rpm built", "srpm", info.String())

	if out.Changed {
		if err := out.Commit(); err != nil {
			return nil, err
		}
	}

	dest := filepath.Join(o.app.Settings.PackagesDir(), filepath.Base(srpm))
	if err := source.CopyFile(srpm, dest); err != nil {
		return nil, fmt.Errorf("failed to store source rpm: %w", err)
	}
	result.SRPM = dest

	next[state.KeyRPMLastVersion] = out.Version
	next[state.KeyRPMLastBaseVersion] = out.BaseVersion
	next[state.KeyRPMLastRelease] = out.Release
	next[state.KeySRPMLastFile] = dest
	if err := o.app.Store.Write(ctx, conf, next); err != nil {
		return nil, err
	}
	o.app.Metrics.SetLastSuccess(conf, o.now())

	logger.Info("package prepared", "version", out.Version, "release", out.Release, "srpm", dest)
	return result, nil
}

// createBuildRoot creates an rpmbuild top directory unique to this run
func (o *Orchestrator) createBuildRoot(conf string) (string, error) {
	root := filepath.Join(o.app.Settings.BuildDir(), conf+"-"+o.newID())
	for _, sub := range []string{"SOURCES", "SPECS", "SRPMS"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to create build root: %w", err)
		}
	}
	return root, nil
}

// lastSRPM returns the source rpm recorded by the last prepare
func (o *Orchestrator) lastSRPM(ctx context.Context, conf string) (string, error) {
	facts, err := o.app.Store.Read(ctx, conf)
	if err != nil {
		return "", err
	}
	srpm := facts[state.KeySRPMLastFile]
	if srpm == "" {
		return "", fmt.Errorf("package %s has no prepared source rpm; run prepare first", conf)
	}
	if _, err := os.Stat(srpm); err != nil {
		return "", fmt.Errorf("prepared source rpm is missing: %w", err)
	}
	return srpm, nil
}

// Build rebuilds the last prepared SRPM with mock
func (o *Orchestrator) Build(ctx context.Context, pkg *config.Package) error {
	srpm, err := o.lastSRPM(ctx, pkg.ConfName)
	if err != nil {
		return err
	}
	if o.app.DryRun {
		o.logger.Info("[dry-run] would rebuild", "package", pkg.ConfName, "srpm", srpm, "chroots", pkg.Build.Chroots)
		return nil
	}
	return o.app.Tools.Mock.Rebuild(ctx, srpm, pkg.Build.Chroots, o.app.Settings.ResultsDir(pkg.ConfName))
}

// Upload submits the last prepared SRPM to copr
func (o *Orchestrator) Upload(ctx context.Context, pkg *config.Package) error {
	if pkg.Upload.Copr == "" {
		return fmt.Errorf("package %s has no upload.copr repository", pkg.ConfName)
	}
	srpm, err := o.lastSRPM(ctx, pkg.ConfName)
	if err != nil {
		return err
	}
	if o.app.DryRun {
		o.logger.Info("[dry-run] would upload", "package", pkg.ConfName, "srpm", srpm, "copr", pkg.Upload.Copr)
		return nil
	}
	return o.app.Tools.Copr.Upload(ctx, srpm, pkg.Upload.Copr, pkg.Upload.Chroots, pkg.Upload.Wait)
}
