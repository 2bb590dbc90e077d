package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/state"
)

const userAgent = "rpmsnap"

type urlSource struct {
	pkg    *config.Package
	file   string
	client HTTPDoer
	logger *slog.Logger
}

func newURLSource(opts Options) (Source, error) {
	u, err := url.Parse(opts.Package.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return nil, fmt.Errorf("source url %q has no file name", opts.Package.Source.URL)
	}

	client := opts.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	return &urlSource{
		pkg:    opts.Package,
		file:   filepath.Join(opts.WorkDir, name),
		client: client,
		logger: opts.Logger,
	}, nil
}

func (s *urlSource) Kind() sourcefmt.Kind { return sourcefmt.KindURL }

// Get downloads the archive unless it is already present
func (s *urlSource) Get(ctx context.Context, force bool) error {
	if _, err := os.Stat(s.file); err == nil && !force {
		s.logger.Debug("archive already downloaded", "path", s.file)
		return nil
	}

	s.logger.Info("downloading archive", "url", s.pkg.Source.URL, "dest", s.file)
	if err := s.download(ctx); err != nil {
		return fmt.Errorf("failed to download %s: %w", s.pkg.Source.URL, err)
	}
	return nil
}

func (s *urlSource) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pkg.Source.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(s.file), ".rpmsnap-download-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.file)
}

func (s *urlSource) Status(_ context.Context) (state.Facts, error) {
	sum, err := FileHash(s.file)
	if err != nil {
		return nil, fmt.Errorf("failed to hash downloaded archive: %w", err)
	}
	return state.Facts{FactSHA256: sum}, nil
}

func (s *urlSource) Export(_ context.Context, dir, _ string) ([]string, error) {
	return exportCopy(s.file, dir)
}
