package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/rpmsnap/internal/rpmtools"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/specfile"
)

// Engine applies release decisions to spec files
type Engine struct {
	bumper rpmtools.Bumper
	logger *slog.Logger
}

// NewEngine creates a reconciliation engine that bumps spec files with bumper
func NewEngine(bumper rpmtools.Bumper, logger *slog.Logger) *Engine {
	return &Engine{
		bumper: bumper,
		logger: logger,
	}
}

// Request describes one reconciliation run
type Request struct {
	// SpecPath is the canonical spec file
	SpecPath string
	// WorkPath receives the spec with preamble for the SRPM build
	WorkPath string

	Formatter sourcefmt.Formatter
	Source    sourcefmt.Input

	// Facts of the last successful run. OldRelease falls back to the
	// canonical spec when empty.
	OldVersion     string
	OldBaseVersion string
	OldRelease     string

	SourcesUpdated bool
	Force          bool
	Message        string
}

// Outcome is a reconciled spec that has not been written back yet
type Outcome struct {
	Decision    Decision
	Version     string
	BaseVersion string
	Release     string
	SpecPath    string
	WorkPath    string
	Preamble    string
	// Changed reports whether the canonical spec text differs after commit
	Changed bool

	restored *specfile.Document
}

// Commit writes the reconciled text over the canonical spec, keeping the
// previous file as a .old backup
func (o *Outcome) Commit() error {
	if err := o.restored.WriteContents(o.SpecPath); err != nil {
		return fmt.Errorf("failed to restore canonical spec: %w", err)
	}
	return nil
}

// Reconcile updates version and source lines, decides the release change,
// exports the spec with preamble to req.WorkPath and applies the decision
// there. The canonical spec is not modified; call Commit on the outcome.
func (e *Engine) Reconcile(ctx context.Context, req Request) (*Outcome, error) {
	doc, err := specfile.Load(req.SpecPath)
	if err != nil {
		return nil, err
	}
	original := doc.Contents()

	newVersion, err := req.Formatter.Version(req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to format version: %w", err)
	}

	in := Input{
		OldVersion:     req.OldVersion,
		OldBaseVersion: req.OldBaseVersion,
		OldRelease:     req.OldRelease,
		NewVersion:     newVersion,
		NewBaseVersion: req.Source.Version,
		SourcesUpdated: req.SourcesUpdated,
		Force:          req.Force,
		Message:        req.Message,
	}
	if in.OldRelease == "" {
		if in.OldRelease, err = doc.Release(); err != nil {
			return nil, err
		}
	}

	decision, err := Decide(in)
	if err != nil {
		return nil, err
	}
	e.logger.Info("release decision",
		"spec", req.SpecPath,
		"old_version", in.OldVersion,
		"new_version", newVersion,
		"old_release", in.OldRelease,
		"sources_updated", in.SourcesUpdated,
		"force", in.Force,
		"cases", decision.Cases())

	if err := doc.SetVersion(newVersion); err != nil {
		return nil, err
	}
	if err := doc.SetSource(req.Formatter.SourceLine(req.Source)); err != nil {
		return nil, err
	}
	if in.VersionChanged() {
		if err := doc.ResetRelease(); err != nil {
			return nil, err
		}
	}

	preamble, err := doc.BuildPreamble(req.Formatter, req.Source)
	if err != nil {
		return nil, err
	}
	if err := doc.Export(req.WorkPath); err != nil {
		return nil, err
	}

	work, err := specfile.Load(req.WorkPath)
	if err != nil {
		return nil, err
	}
	for _, step := range decision.Steps {
		if err := e.apply(ctx, work, step); err != nil {
			return nil, err
		}
	}

	stripped, err := specfile.StripPreamble(work.Contents(), preamble)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReconciliation, req.WorkPath, err)
	}
	restored := specfile.Parse(req.SpecPath, stripped)

	release, err := restored.Release()
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Decision:    decision,
		Version:     newVersion,
		BaseVersion: req.Source.Version,
		Release:     release,
		SpecPath:    req.SpecPath,
		WorkPath:    req.WorkPath,
		Preamble:    preamble,
		Changed:     stripped != original,
		restored:    restored,
	}, nil
}

// apply runs one step against the exported spec. Resets are saved to disk
// before the bump tool sees the file; the file is re-read after bumping.
func (e *Engine) apply(ctx context.Context, work *specfile.Document, step Step) error {
	if step.ResetRelease {
		release, err := work.Release()
		if err != nil {
			return err
		}
		if !specfile.ParseRelease(release).IsInitial() {
			if err := work.ResetRelease(); err != nil {
				return err
			}
			if err := work.Save(); err != nil {
				return err
			}
		}
	}

	if !step.Bumps() {
		return nil
	}

	e.logger.Info("bumping release", "case", step.Case, "comment", step.Comment)
	if err := e.bumper.Bump(ctx, work.Path, step.Comment); err != nil {
		return fmt.Errorf("changelog bump for %s case: %w", step.Case, err)
	}
	return work.Reload()
}
