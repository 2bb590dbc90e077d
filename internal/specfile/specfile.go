// Package specfile is a line-oriented, in-memory model of an RPM .spec file.
//
// A Document reads and rewrites the Version, Release and Source tags in place
// and owns the transient macro preamble: the preamble is only ever prepended on
// export and must be stripped again before the text goes back to the canonical
// location.
package specfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/rpmsnap/internal/sourcefmt"
)

var (
	// ErrMalformedSpec is returned when a required tag line is missing
	ErrMalformedSpec = errors.New("malformed spec")
	// ErrSameFile is returned when exporting a document onto its own path
	ErrSameFile = errors.New("refusing to export spec with preamble onto its source path")
	// ErrPreambleNotFound is returned when the recorded preamble cannot be stripped
	ErrPreambleNotFound = errors.New("preamble not found in spec text")
)

// tagWidth is the column (zero-based) at which tag values start
const tagWidth = 16

// BackupSuffix is appended to the canonical spec path for the previous version
const BackupSuffix = ".old"

// Document is a spec file held in memory
type Document struct {
	Path string

	contents string
	preamble string
}

// Load reads the spec file at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}
	return Parse(path, string(data)), nil
}

// Parse wraps already-read spec text
func Parse(path, contents string) *Document {
	return &Document{Path: path, contents: contents}
}

// Contents returns the document text without the preamble
func (d *Document) Contents() string {
	return d.contents
}

// Preamble returns the preamble recorded by BuildPreamble
func (d *Document) Preamble() string {
	return d.preamble
}

// Reload re-reads the document from its path, e.g. after an external tool
// modified the file. The recorded preamble is kept.
func (d *Document) Reload() error {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return fmt.Errorf("failed to reload spec file: %w", err)
	}
	d.contents = string(data)
	return nil
}

// tagLine is the result of a tag lookup
type tagLine struct {
	index int
	tag   string
	value string
	found bool
}

// lookup finds the first line starting with one of the given tags (without
// the trailing colon). Matching is exact and case-sensitive.
func (d *Document) lookup(tags ...string) tagLine {
	for i, line := range strings.Split(d.contents, "\n") {
		for _, tag := range tags {
			prefix := tag + ":"
			if strings.HasPrefix(line, prefix) {
				return tagLine{
					index: i,
					tag:   tag,
					value: strings.TrimSpace(line[len(prefix):]),
					found: true,
				}
			}
		}
	}
	return tagLine{}
}

func (d *Document) replaceLine(index int, line string) {
	lines := strings.Split(d.contents, "\n")
	lines[index] = line
	d.contents = strings.Join(lines, "\n")
}

// Version returns the value of the Version tag
func (d *Document) Version() (string, error) {
	tl := d.lookup("Version")
	if !tl.found {
		return "", fmt.Errorf("%w: %s has no Version tag", ErrMalformedSpec, d.Path)
	}
	return tl.value, nil
}

// Release returns the value of the Release tag
func (d *Document) Release() (string, error) {
	tl := d.lookup("Release")
	if !tl.found {
		return "", fmt.Errorf("%w: %s has no Release tag", ErrMalformedSpec, d.Path)
	}
	return tl.value, nil
}

// SetVersion rewrites the Version line
func (d *Document) SetVersion(version string) error {
	return d.setTag("Version", version, "Version")
}

// SetRelease rewrites the Release line
func (d *Document) SetRelease(release string) error {
	return d.setTag("Release", release, "Release")
}

// SetSource rewrites the Source0 line, or the legacy Source line
func (d *Document) SetSource(source string) error {
	return d.setTag("Source0", source, "Source0", "Source")
}

func (d *Document) setTag(name, value string, tags ...string) error {
	tl := d.lookup(tags...)
	if !tl.found {
		return fmt.Errorf("%w: %s has no %s tag", ErrMalformedSpec, d.Path, name)
	}
	d.replaceLine(tl.index, FormatTag(tl.tag, value))
	return nil
}

// ResetRelease sets the numeric release prefix to 0, keeping the suffix
func (d *Document) ResetRelease() error {
	release, err := d.Release()
	if err != nil {
		return err
	}
	return d.SetRelease(ParseRelease(release).Reset().String())
}

// BuildPreamble renders the macro preamble for the source and records it
func (d *Document) BuildPreamble(f sourcefmt.Formatter, in sourcefmt.Input) (string, error) {
	macros, err := f.Preamble(in)
	if err != nil {
		return "", fmt.Errorf("failed to build preamble: %w", err)
	}
	d.preamble = sourcefmt.RenderPreamble(macros)
	return d.preamble, nil
}

// Export writes preamble and contents to path. Exporting onto the document's
// own path is refused so the template never carries the preamble.
func (d *Document) Export(path string) error {
	same, err := samePath(path, d.Path)
	if err != nil {
		return err
	}
	if same {
		return fmt.Errorf("%w: %s", ErrSameFile, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(d.preamble+d.contents), 0644); err != nil {
		return fmt.Errorf("failed to export spec: %w", err)
	}
	return nil
}

// Save writes the contents (no preamble) back to the document's own path
func (d *Document) Save() error {
	if err := os.WriteFile(d.Path, []byte(d.contents), 0644); err != nil {
		return fmt.Errorf("failed to save spec: %w", err)
	}
	return nil
}

// WriteContents writes the contents without preamble to path, keeping the
// previous file as a .old backup
func (d *Document) WriteContents(path string) error {
	return ReplaceFile(path, d.contents)
}

// FormatTag renders "Tag:" padded with spaces so the value starts at a fixed
// column. Tags too long for the column get a single space.
func FormatTag(tag, value string) string {
	key := tag + ":"
	if len(key) < tagWidth {
		key += strings.Repeat(" ", tagWidth-len(key))
	} else {
		key += " "
	}
	return key + value
}

// StripPreamble removes exactly one occurrence of preamble from text
func StripPreamble(text, preamble string) (string, error) {
	if preamble == "" {
		return text, nil
	}
	if strings.HasPrefix(text, preamble) {
		return text[len(preamble):], nil
	}
	idx := strings.Index(text, preamble)
	if idx < 0 {
		return "", ErrPreambleNotFound
	}
	return text[:idx] + text[idx+len(preamble):], nil
}

// ReplaceFile atomically replaces path with contents. An existing file is
// renamed to path+".old" first; the new content is written to a temporary file
// in the same directory and renamed into place.
func ReplaceFile(path, contents string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, ".rpmsnap-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.WriteString(contents); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+BackupSuffix); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return os.Rename(tmpPath, path)
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	if absA == absB {
		return true, nil
	}

	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	if errA != nil || errB != nil {
		return false, nil
	}
	return os.SameFile(infoA, infoB), nil
}
