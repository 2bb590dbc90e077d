// Package sourcefmt derives spec file values (version string, source line and
// macro preamble) from the status facts of a package source. Each source kind
// owns a Formatter; the Table maps kinds to formatters so new origins can be
// added without touching the callers.
package sourcefmt

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Kind identifies the origin of a package source
type Kind string

const (
	KindGit   Kind = "git"
	KindURL   Kind = "url"
	KindLocal Kind = "local"
)

// Fact keys contributed by git sources
const (
	FactGitCommit = "git_last_commit"
	FactGitDate   = "git_last_date"
)

// GitDateLayout is the layout of the FactGitDate value (UTC commit time)
const GitDateLayout = "20060102 150405"

const (
	// DefaultGitTemplate builds snapshot versions such as 1.0~20160101.000000.gitabc1234
	DefaultGitTemplate = "%{version}%{version_sep}%{date}.%{time}.git%{shortcommit}"
	// DefaultVersionSep separates the upstream version from the snapshot part
	DefaultVersionSep = "~"

	shortCommitLen = 7
)

// Input carries everything a Formatter may use
type Input struct {
	Version    string            // configured upstream version
	VersionSep string            // separator used by version templates
	Template   string            // version template, git only
	Origin     string            // URL or local path of the source
	Facts      map[string]string // status facts reported by the source
}

// Macro is a single %global definition of the preamble
type Macro struct {
	Name  string
	Value string
}

// Formatter bundles the per-kind derivation functions
type Formatter struct {
	Version    func(in Input) (string, error)
	Preamble   func(in Input) ([]Macro, error)
	SourceLine func(in Input) string
}

// Table maps source kinds to their formatters
type Table map[Kind]Formatter

// DefaultTable returns a fresh table with the built-in kinds
func DefaultTable() Table {
	return Table{
		KindGit: {
			Version:    gitVersion,
			Preamble:   gitPreamble,
			SourceLine: func(Input) string { return "%{name}-%{version}.tar.gz" },
		},
		KindURL: {
			Version:    plainVersion,
			Preamble:   noPreamble,
			SourceLine: func(in Input) string { return in.Origin },
		},
		KindLocal: {
			Version:    plainVersion,
			Preamble:   noPreamble,
			SourceLine: func(in Input) string { return filepath.Base(in.Origin) },
		},
	}
}

// Register adds or replaces the formatter for kind
func (t Table) Register(kind Kind, f Formatter) {
	t[kind] = f
}

// Lookup returns the formatter registered for kind
func (t Table) Lookup(kind Kind) (Formatter, error) {
	f, ok := t[kind]
	if !ok {
		return Formatter{}, fmt.Errorf("no formatter for source kind %q (known: %s)", kind, strings.Join(t.kinds(), ", "))
	}
	return f, nil
}

func (t Table) kinds() []string {
	kinds := make([]string, 0, len(t))
	for k := range t {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// Lookup returns the built-in formatter for kind
func Lookup(kind Kind) (Formatter, error) {
	return DefaultTable().Lookup(kind)
}

// RenderPreamble renders macros as %global lines followed by a blank line.
// An empty macro list renders as the empty string.
func RenderPreamble(macros []Macro) string {
	if len(macros) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range macros {
		fmt.Fprintf(&b, "%%global %s %s\n", m.Name, m.Value)
	}
	b.WriteString("\n")
	return b.String()
}

func plainVersion(in Input) (string, error) {
	if in.Version == "" {
		return "", fmt.Errorf("source version is not configured")
	}
	return in.Version, nil
}

func noPreamble(Input) ([]Macro, error) {
	return nil, nil
}

// snapshot holds the git facts split into the pieces templates refer to
type snapshot struct {
	commit string
	short  string
	date   string
	time   string
}

func gitSnapshot(facts map[string]string) (snapshot, error) {
	commit := facts[FactGitCommit]
	if commit == "" {
		return snapshot{}, fmt.Errorf("git source has no %s fact", FactGitCommit)
	}
	date, clock, ok := strings.Cut(facts[FactGitDate], " ")
	if !ok || date == "" || clock == "" {
		return snapshot{}, fmt.Errorf("git source has invalid %s fact %q", FactGitDate, facts[FactGitDate])
	}

	short := commit
	if len(short) > shortCommitLen {
		short = short[:shortCommitLen]
	}

	return snapshot{commit: commit, short: short, date: date, time: clock}, nil
}

func gitVersion(in Input) (string, error) {
	snap, err := gitSnapshot(in.Facts)
	if err != nil {
		return "", err
	}

	tmpl := in.Template
	if tmpl == "" {
		tmpl = DefaultGitTemplate
	}
	sep := in.VersionSep
	if sep == "" {
		sep = DefaultVersionSep
	}

	r := strings.NewReplacer(
		"%{version}", in.Version,
		"%{version_sep}", sep,
		"%{date}", snap.date,
		"%{time}", snap.time,
		"%{shortcommit}", snap.short,
		"%{commit}", snap.commit,
	)
	return r.Replace(tmpl), nil
}

func gitPreamble(in Input) ([]Macro, error) {
	snap, err := gitSnapshot(in.Facts)
	if err != nil {
		return nil, err
	}
	return []Macro{
		{Name: "commit", Value: snap.commit},
		{Name: "shortcommit", Value: snap.short},
		{Name: "date", Value: snap.date},
		{Name: "time", Value: snap.time},
	}, nil
}
