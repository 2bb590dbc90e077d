package rpmtools

import (
	"context"
	"log/slog"
)

// Bumper adds a changelog entry to a spec file and increments the numeric
// release prefix by one
type Bumper interface {
	Bump(ctx context.Context, specPath, comment string) error
}

// BumpSpec implements Bumper with rpmdev-bumpspec
type BumpSpec struct {
	bin      string
	packager string
	logger   *slog.Logger
}

// NewBumpSpec creates a bumper. packager is passed as --userstring when set.
func NewBumpSpec(bin, packager string, logger *slog.Logger) *BumpSpec {
	if bin == "" {
		bin = DefaultBumpSpec
	}
	return &BumpSpec{bin: bin, packager: packager, logger: logger}
}

// Bump runs rpmdev-bumpspec against specPath
func (b *BumpSpec) Bump(ctx context.Context, specPath, comment string) error {
	args := []string{"--comment=" + comment}
	if b.packager != "" {
		args = append(args, "--userstring="+b.packager)
	}
	args = append(args, specPath)

	b.logger.Debug("bumping spec", "spec", specPath, "comment", comment)
	_, err := run(ctx, b.bin, args...)
	return err
}
