package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/git"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/state"
)

type gitSource struct {
	pkg    *config.Package
	dir    string
	client git.Client
	logger *slog.Logger
}

func newGitSource(opts Options) (Source, error) {
	client := opts.Git
	if client == nil {
		client = git.NewShellClient(opts.Package.Auth.SSHKeyFile, opts.Package.Auth.HTTPSTokenFile)
	}
	return &gitSource{
		pkg:    opts.Package,
		dir:    filepath.Join(opts.WorkDir, "checkout"),
		client: client,
		logger: opts.Logger,
	}, nil
}

func (s *gitSource) Kind() sourcefmt.Kind { return sourcefmt.KindGit }

// Get fetches the repository. Checkouts are always refreshed, so force has
// no effect.
func (s *gitSource) Get(ctx context.Context, _ bool) error {
	s.logger.Info("fetching repository", "url", s.pkg.Source.URL, "ref", s.pkg.Source.Ref, "dest", s.dir)
	commit, err := s.client.Sync(ctx, s.pkg.Source.URL, s.pkg.Source.Ref, s.dir)
	if err != nil {
		return fmt.Errorf("failed to checkout repository: %w", err)
	}
	s.logger.Info("repository checked out", "commit", commit)
	return nil
}

func (s *gitSource) Status(_ context.Context) (state.Facts, error) {
	head, err := s.client.Head(s.dir)
	if err != nil {
		return nil, err
	}
	return state.Facts{
		sourcefmt.FactGitCommit: head.Hash,
		sourcefmt.FactGitDate:   head.Time.Format(sourcefmt.GitDateLayout),
	}, nil
}

func (s *gitSource) Export(ctx context.Context, dir, version string) ([]string, error) {
	name := archiveName(s.pkg.Name, version)
	prefix := strings.TrimSuffix(name, ".tar.gz")
	if err := s.client.Archive(ctx, s.dir, prefix, filepath.Join(dir, name)); err != nil {
		return nil, err
	}
	return []string{name}, nil
}
