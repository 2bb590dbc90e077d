package rpmtools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Rebuilder rebuilds a source RPM for a set of chroots
type Rebuilder interface {
	Rebuild(ctx context.Context, srpm string, chroots []string, resultDir string) error
}

// Uploader submits a source RPM to a build service
type Uploader interface {
	Upload(ctx context.Context, srpm, repo string, chroots []string, wait bool) error
}

// Mock rebuilds source RPMs in mock chroots
type Mock struct {
	bin    string
	logger *slog.Logger
}

// NewMock creates a mock client
func NewMock(bin string, logger *slog.Logger) *Mock {
	if bin == "" {
		bin = DefaultMock
	}
	return &Mock{bin: bin, logger: logger}
}

// Rebuild runs mock --rebuild for every chroot. Results land in
// resultDir/<chroot>. The first failing chroot aborts the build.
func (m *Mock) Rebuild(ctx context.Context, srpm string, chroots []string, resultDir string) error {
	if len(chroots) == 0 {
		return fmt.Errorf("no mock chroots configured")
	}

	for _, chroot := range chroots {
		dir := filepath.Join(resultDir, chroot)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create mock result directory: %w", err)
		}

		m.logger.Info("building in mock", "chroot", chroot, "srpm", filepath.Base(srpm))
		if _, err := run(ctx, m.bin, "-r", chroot, "--rebuild", srpm, "--resultdir", dir); err != nil {
			return fmt.Errorf("mock build for %s: %w", chroot, err)
		}
	}
	return nil
}

// Copr submits source RPMs to a copr repository
type Copr struct {
	bin    string
	logger *slog.Logger
}

// NewCopr creates a copr-cli client
func NewCopr(bin string, logger *slog.Logger) *Copr {
	if bin == "" {
		bin = DefaultCopr
	}
	return &Copr{bin: bin, logger: logger}
}

// Upload runs copr-cli build. With wait unset the build is only queued.
func (c *Copr) Upload(ctx context.Context, srpm, repo string, chroots []string, wait bool) error {
	if repo == "" {
		return fmt.Errorf("no copr repository configured")
	}

	args := []string{"build"}
	for _, chroot := range chroots {
		args = append(args, "--chroot", chroot)
	}
	if !wait {
		args = append(args, "--nowait")
	}
	args = append(args, repo, srpm)

	c.logger.Info("uploading to copr", "repo", repo, "srpm", filepath.Base(srpm))
	if _, err := run(ctx, c.bin, args...); err != nil {
		return fmt.Errorf("copr upload to %s: %w", repo, err)
	}
	return nil
}
