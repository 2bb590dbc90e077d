// Package testutil holds fakes and fixtures shared by package tests
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/schaermu/rpmsnap/internal/specfile"
)

// SpecTemplate is a minimal spec as written by a packager for a new package
const SpecTemplate = `Name:           foo
Version:        0
Release:        1%{?dist}
Summary:        Example package

License:        MIT
URL:            https://example.com/foo
Source0:        https://example.com/foo-0.tar.gz

BuildArch:      noarch

%description
Example package.

%prep
%autosetup

%install

%files

%changelog
`

// BumpCall records one invocation of FakeBumper
type BumpCall struct {
	Spec    string
	Comment string
	// Release is the Release value found before bumping
	Release string
}

// FakeBumper behaves like rpmdev-bumpspec: it increments the numeric release
// prefix by one and adds a changelog entry, working on the file on disk
type FakeBumper struct {
	Calls []BumpCall
	// Err is returned instead of touching the file when set
	Err error
}

// Bump implements rpmtools.Bumper
func (b *FakeBumper) Bump(_ context.Context, specPath, comment string) error {
	call := BumpCall{Spec: specPath, Comment: comment}
	if b.Err != nil {
		b.Calls = append(b.Calls, call)
		return b.Err
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		return err
	}
	doc := specfile.Parse(specPath, string(data))

	release, err := doc.Release()
	if err != nil {
		return err
	}
	call.Release = release
	b.Calls = append(b.Calls, call)
	next := specfile.ParseRelease(release).Increment().String()
	if err := doc.SetRelease(next); err != nil {
		return err
	}
	version, err := doc.Version()
	if err != nil {
		return err
	}

	entry := fmt.Sprintf("* Mon Jan 04 2016 Test Packager <test@example.com> - %s-%s\n- %s\n\n", version, next, comment)
	text := doc.Contents()
	const marker = "%changelog\n"
	if idx := strings.Index(text, marker); idx >= 0 {
		cut := idx + len(marker)
		text = text[:cut] + entry + text[cut:]
	} else {
		text += "\n" + marker + entry
	}

	return os.WriteFile(specPath, []byte(text), 0644)
}

// Comments returns the comments of all recorded calls
func (b *FakeBumper) Comments() []string {
	comments := make([]string, 0, len(b.Calls))
	for _, c := range b.Calls {
		comments = append(comments, c.Comment)
	}
	return comments
}
