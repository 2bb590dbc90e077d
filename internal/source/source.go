// Package source fetches upstream sources for a package and exports them as
// archives into a build root. Each source kind has its own implementation,
// selected through a kind table.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/git"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/state"
)

// FactSHA256 records the checksum of downloaded or local archives
const FactSHA256 = "source_sha256"

// Source is a package's upstream origin
type Source interface {
	Kind() sourcefmt.Kind
	// Get fetches or refreshes the sources. force re-fetches sources that
	// are already present.
	Get(ctx context.Context, force bool) error
	// Status returns the facts describing the fetched state
	Status(ctx context.Context) (state.Facts, error)
	// Export writes the source archive(s) for version into dir and returns
	// their file names
	Export(ctx context.Context, dir, version string) ([]string, error)
}

// HTTPDoer is the part of *http.Client used for downloads
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

var _ HTTPDoer = http.DefaultClient

// Options carries everything a source implementation may need
type Options struct {
	Package *config.Package
	// WorkDir holds checkouts and downloads between runs
	WorkDir string
	// BaseDir resolves relative local source paths
	BaseDir string
	Git     git.Client
	HTTP    HTTPDoer
	Logger  *slog.Logger
}

type factory func(opts Options) (Source, error)

var factories = map[sourcefmt.Kind]factory{
	sourcefmt.KindGit:   newGitSource,
	sourcefmt.KindURL:   newURLSource,
	sourcefmt.KindLocal: newLocalSource,
}

// New creates the source configured for opts.Package
func New(opts Options) (Source, error) {
	if opts.Package == nil {
		return nil, fmt.Errorf("no package configuration")
	}
	f, ok := factories[opts.Package.Source.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported source kind %q", opts.Package.Source.Kind)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return f(opts)
}

// archiveName is the file name of an exported git archive, matching the
// %{name}-%{version}.tar.gz source line
func archiveName(name, version string) string {
	return fmt.Sprintf("%s-%s.tar.gz", name, version)
}

// exportCopy copies src into dir under its base name
func exportCopy(src, dir string) ([]string, error) {
	name := filepath.Base(src)
	if err := CopyFile(src, filepath.Join(dir, name)); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", name, err)
	}
	return []string{name}, nil
}
