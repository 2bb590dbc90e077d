package rpmtools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/rpm"

	"github.com/schaermu/rpmsnap/internal/specfile"
)

// SRPMBuilder turns a macro-resolved spec file into a source RPM
type SRPMBuilder interface {
	BuildSRPM(ctx context.Context, topDir, specPath string) (string, error)
}

// RPMBuild implements SRPMBuilder with rpmbuild -bs
type RPMBuild struct {
	bin    string
	logger *slog.Logger
}

// NewRPMBuild creates an rpmbuild client
func NewRPMBuild(bin string, logger *slog.Logger) *RPMBuild {
	if bin == "" {
		bin = DefaultRPMBuild
	}
	return &RPMBuild{bin: bin, logger: logger}
}

// BuildSRPM builds the source RPM inside topDir and returns its path
func (r *RPMBuild) BuildSRPM(ctx context.Context, topDir, specPath string) (string, error) {
	args := []string{
		"-bs",
		"--define", "_topdir " + topDir,
		specPath,
	}
	r.logger.Debug("building srpm", "spec", specPath, "topdir", topDir)

	output, err := run(ctx, r.bin, args...)
	if err != nil {
		return "", err
	}

	if path := wrotePath(output); path != "" {
		return path, nil
	}

	// older rpmbuild versions do not print a Wrote: line for -bs
	matches, err := filepath.Glob(filepath.Join(topDir, "SRPMS", "*.src.rpm"))
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("expected exactly one srpm in %s, found %d", filepath.Join(topDir, "SRPMS"), len(matches))
	}
	return matches[0], nil
}

// wrotePath extracts the last "Wrote: <path>" line of rpmbuild output
func wrotePath(output string) string {
	var path string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Wrote:"); ok && strings.HasSuffix(line, ".src.rpm") {
			path = strings.TrimSpace(rest)
		}
	}
	return path
}

// SRPMInfo is the subset of an SRPM header rpmsnap checks
type SRPMInfo struct {
	Name    string
	Version string
	Release string
}

// String renders name-version-release
func (i SRPMInfo) String() string {
	return fmt.Sprintf("%s-%s-%s", i.Name, i.Version, i.Release)
}

// InspectSRPM reads name, version and release from the package header
func InspectSRPM(path string) (SRPMInfo, error) {
	pkg, err := rpm.Open(path)
	if err != nil {
		return SRPMInfo{}, fmt.Errorf("failed to read srpm header %s: %w", path, err)
	}
	return SRPMInfo{
		Name:    pkg.Name(),
		Version: pkg.Version(),
		Release: pkg.Release(),
	}, nil
}

// Verify checks that the header matches the reconciled spec. The release
// suffix is macro-expanded by rpmbuild, so only the numeric prefix is compared.
func (i SRPMInfo) Verify(version, release string) error {
	if i.Version != version {
		return fmt.Errorf("srpm %s has version %q, spec has %q", i, i.Version, version)
	}
	want := specfile.ParseRelease(release).Digits
	got := specfile.ParseRelease(i.Release).Digits
	if want != got {
		return fmt.Errorf("srpm %s has release %q, spec has %q", i, i.Release, release)
	}
	return nil
}
