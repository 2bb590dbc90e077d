package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/state"
)

type localSource struct {
	path string
}

func newLocalSource(opts Options) (Source, error) {
	p := opts.Package.Source.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(opts.BaseDir, p)
	}
	return &localSource{path: p}, nil
}

func (s *localSource) Kind() sourcefmt.Kind { return sourcefmt.KindLocal }

// Get checks that the archive exists
func (s *localSource) Get(_ context.Context, _ bool) error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("local source not available: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("local source %s is a directory", s.path)
	}
	return nil
}

func (s *localSource) Status(_ context.Context) (state.Facts, error) {
	sum, err := FileHash(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash local archive: %w", err)
	}
	return state.Facts{FactSHA256: sum}, nil
}

func (s *localSource) Export(_ context.Context, dir, _ string) ([]string, error) {
	return exportCopy(s.path, dir)
}
