// Package reconcile decides how the Release tag and changelog of a spec file
// follow a change in upstream sources or packaging, and applies that decision.
package reconcile

import (
	"errors"
	"fmt"

	"github.com/schaermu/rpmsnap/internal/specfile"
)

// ErrReconciliation means the decision table matched no case. It indicates
// inconsistent inputs, never a recoverable condition.
var ErrReconciliation = errors.New("release reconciliation failed")

// Case names a row of the decision table
type Case string

const (
	CaseInitial       Case = "initial"
	CasePackaging     Case = "packaging"
	CaseSnapshot      Case = "snapshot"
	CaseNoOp          Case = "noop"
	CaseVersionUpdate Case = "version-update"
)

// Changelog comments
const (
	MessageInitial   = "Initial package."
	MessagePackaging = "Update for packaging changes."
	MessageSnapshot  = "Update to latest snapshot."
)

// VersionMessage is the changelog comment for an upstream version update
func VersionMessage(version string) string {
	return fmt.Sprintf("Update to version %s.", version)
}

// Input holds the facts a decision is based on. Old values come from the last
// successful run; an empty OldVersion means the package was never built.
type Input struct {
	OldVersion     string
	OldBaseVersion string
	OldRelease     string
	NewVersion     string
	NewBaseVersion string
	SourcesUpdated bool
	Force          bool
	// Message replaces the changelog comment of the initial and packaging cases
	Message string
}

// oldBase is the upstream version of the last run. Records written before the
// base version was tracked fall back to the full version.
func (in Input) oldBase() string {
	if in.OldBaseVersion != "" {
		return in.OldBaseVersion
	}
	return in.OldVersion
}

func (in Input) newBase() string {
	if in.NewBaseVersion != "" {
		return in.NewBaseVersion
	}
	return in.NewVersion
}

// VersionChanged reports whether the upstream version differs from the last run
func (in Input) VersionChanged() bool {
	return in.oldBase() != in.newBase()
}

func (in Input) comment(fallback string) string {
	if in.Message != "" {
		return in.Message
	}
	return fallback
}

// Step is one action of a decision: an optional release reset followed by an
// optional bump with Comment
type Step struct {
	Case         Case
	ResetRelease bool
	Comment      string
}

// Bumps reports whether the step invokes the bump tool
func (s Step) Bumps() bool {
	return s.Comment != ""
}

// Decision is the ordered list of steps to apply
type Decision struct {
	Steps []Step
}

// Cases returns the matched cases in order
func (d Decision) Cases() []Case {
	cases := make([]Case, 0, len(d.Steps))
	for _, s := range d.Steps {
		cases = append(cases, s.Case)
	}
	return cases
}

// Bumps returns how many times the bump tool will run
func (d Decision) Bumps() int {
	n := 0
	for _, s := range d.Steps {
		if s.Bumps() {
			n++
		}
	}
	return n
}

// rule is a row of the decision table. Evaluation stops after the first
// matching rule marked final.
type rule struct {
	match func(in Input, release specfile.ReleaseToken) bool
	step  func(in Input) Step
	final bool
}

var rules = []rule{
	{
		match: func(in Input, release specfile.ReleaseToken) bool {
			return in.OldVersion == "" || release.IsInitial()
		},
		step: func(in Input) Step {
			return Step{Case: CaseInitial, ResetRelease: true, Comment: in.comment(MessageInitial)}
		},
		final: true,
	},
	{
		match: func(in Input, _ specfile.ReleaseToken) bool {
			return !in.VersionChanged() && in.Force
		},
		step: func(in Input) Step {
			return Step{Case: CasePackaging, Comment: in.comment(MessagePackaging)}
		},
	},
	{
		match: func(in Input, _ specfile.ReleaseToken) bool {
			return !in.VersionChanged() && in.SourcesUpdated
		},
		step: func(Input) Step {
			return Step{Case: CaseSnapshot, ResetRelease: true, Comment: MessageSnapshot}
		},
	},
	{
		match: func(in Input, _ specfile.ReleaseToken) bool {
			return !in.VersionChanged() && !in.Force && !in.SourcesUpdated
		},
		step: func(Input) Step {
			return Step{Case: CaseNoOp}
		},
		final: true,
	},
	{
		match: func(in Input, _ specfile.ReleaseToken) bool {
			return in.VersionChanged() && in.newBase() != ""
		},
		step: func(in Input) Step {
			return Step{Case: CaseVersionUpdate, Comment: VersionMessage(in.newBase())}
		},
		final: true,
	},
}

// Decide evaluates the decision table. It does not touch any file.
func Decide(in Input) (Decision, error) {
	release := specfile.ParseRelease(in.OldRelease)
	if in.OldVersion != "" {
		if !release.HasNumber() {
			return Decision{}, fmt.Errorf("%w: release %q has no numeric prefix", specfile.ErrMalformedSpec, in.OldRelease)
		}
	}

	var d Decision
	for _, r := range rules {
		if !r.match(in, release) {
			continue
		}
		d.Steps = append(d.Steps, r.step(in))
		if r.final {
			break
		}
	}

	if len(d.Steps) == 0 {
		return Decision{}, fmt.Errorf("%w: no case matches old version %q, new version %q", ErrReconciliation, in.OldVersion, in.NewVersion)
	}
	return d, nil
}
