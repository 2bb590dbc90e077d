// Package batch runs an action over several packages. A failing package
// stops its own action chain but never the batch.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/construct"
	"github.com/schaermu/rpmsnap/internal/metrics"
	"github.com/schaermu/rpmsnap/internal/reconcile"
)

// Action names a per-package operation
type Action string

const (
	ActionGet     Action = "get"
	ActionPrepare Action = "prepare"
	ActionBuild   Action = "build"
	ActionUpload  Action = "upload"
	// ActionChain runs prepare, build and upload
	ActionChain Action = "chain"
)

// Actions lists every valid action
var Actions = []Action{ActionGet, ActionPrepare, ActionBuild, ActionUpload, ActionChain}

// ParseAction validates an action name
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !slices.Contains(Actions, a) {
		return "", fmt.Errorf("unknown action %q (must be get, prepare, build, upload, or chain)", s)
	}
	return a, nil
}

// Orchestrator is the per-package backend of a batch
type Orchestrator interface {
	Get(ctx context.Context, pkg *config.Package, force bool) error
	Prepare(ctx context.Context, pkg *config.Package, opts construct.Options) (*construct.Result, error)
	Build(ctx context.Context, pkg *config.Package) error
	Upload(ctx context.Context, pkg *config.Package) error
}

var _ Orchestrator = (*construct.Orchestrator)(nil)

// Loader resolves a configuration name to its package configuration
type Loader func(conf string) (*config.Package, error)

// Report is the outcome of one package
type Report struct {
	Package  string
	Action   Action
	Cases    []reconcile.Case
	Version  string
	Release  string
	SRPM     string
	Skipped  []Action
	Err      error
	Duration time.Duration
}

// Runner executes batches
type Runner struct {
	orch    Orchestrator
	load    Loader
	metrics metrics.Recorder
	logger  *slog.Logger
	opts    construct.Options
}

// NewRunner creates a batch runner. opts apply to every prepare step.
func NewRunner(orch Orchestrator, load Loader, recorder metrics.Recorder, logger *slog.Logger, opts construct.Options) *Runner {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Runner{
		orch:    orch,
		load:    load,
		metrics: recorder,
		logger:  logger,
		opts:    opts,
	}
}

// Run executes action for every package in order and returns one report per
// package. A cancelled context stops the batch before the next package.
func (r *Runner) Run(ctx context.Context, action Action, names []string) []Report {
	reports := make([]Report, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			reports = append(reports, Report{Package: name, Action: action, Err: err})
			continue
		}

		start := time.Now()
		rep := r.runOne(ctx, action, name)
		rep.Duration = time.Since(start)

		result := metrics.Result(rep.Err)
		r.metrics.ObserveAction(string(action), rep.Duration, result)
		r.metrics.IncPackageResult(name, string(action), result)

		if rep.Err != nil {
			r.logger.Error("package failed", "package", name, "action", action, "error", rep.Err)
		} else {
			r.logger.Info("package done", "package", name, "action", action, "duration", rep.Duration)
		}
		reports = append(reports, rep)
	}

	if err := r.metrics.Flush(); err != nil {
		r.logger.Warn("failed to write metrics", "error", err)
	}
	return reports
}

func (r *Runner) runOne(ctx context.Context, action Action, name string) Report {
	rep := Report{Package: name, Action: action}

	pkg, err := r.load(name)
	if err != nil {
		rep.Err = err
		return rep
	}

	switch action {
	case ActionGet:
		rep.Err = r.orch.Get(ctx, pkg, r.opts.Refetch)
	case ActionPrepare:
		rep.Err = r.prepare(ctx, pkg, &rep)
	case ActionBuild:
		rep.Err = r.orch.Build(ctx, pkg)
	case ActionUpload:
		rep.Err = r.orch.Upload(ctx, pkg)
	case ActionChain:
		rep.Err = r.chain(ctx, pkg, &rep)
	default:
		rep.Err = fmt.Errorf("unknown action %q", action)
	}
	return rep
}

func (r *Runner) prepare(ctx context.Context, pkg *config.Package, rep *Report) error {
	res, err := r.orch.Prepare(ctx, pkg, r.opts)
	if err != nil {
		return err
	}
	rep.Cases = res.Decision.Cases()
	rep.Version = res.Version
	rep.Release = res.Release
	rep.SRPM = res.SRPM
	return nil
}

// chain prepares the package and, unless nothing changed, builds and uploads
// it. Build and upload are skipped when the package does not configure them.
func (r *Runner) chain(ctx context.Context, pkg *config.Package, rep *Report) error {
	if err := r.prepare(ctx, pkg, rep); err != nil {
		return err
	}
	if r.opts.DryRun || slices.Equal(rep.Cases, []reconcile.Case{reconcile.CaseNoOp}) {
		rep.Skipped = []Action{ActionBuild, ActionUpload}
		return nil
	}

	if len(pkg.Build.Chroots) > 0 {
		if err := r.orch.Build(ctx, pkg); err != nil {
			return fmt.Errorf("build: %w", err)
		}
	} else {
		rep.Skipped = append(rep.Skipped, ActionBuild)
	}

	if pkg.Upload.Copr != "" {
		if err := r.orch.Upload(ctx, pkg); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	} else {
		rep.Skipped = append(rep.Skipped, ActionUpload)
	}
	return nil
}

// Failed counts the reports carrying an error
func Failed(reports []Report) int {
	n := 0
	for _, rep := range reports {
		if rep.Err != nil {
			n++
		}
	}
	return n
}
