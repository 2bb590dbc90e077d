package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/rpmsnap/internal/sourcefmt"
)

// DefaultGitRef is checked out when a git source does not name a ref
const DefaultGitRef = "HEAD"

// configExtensions are tried in order when looking up a package by name
var configExtensions = []string{".yaml", ".yml", ".toml"}

// Package is the configuration of one package, read from
// <basedir>/configs/<conf>.yaml or <conf>.toml
type Package struct {
	// ConfName is the file name without extension; it keys the state record
	ConfName string `yaml:"-" toml:"-"`
	// Name is the RPM package name, defaults to ConfName
	Name   string       `yaml:"name" toml:"name"`
	Source SourceConfig `yaml:"source" toml:"source"`
	Auth   AuthConfig   `yaml:"auth" toml:"auth"`
	Build  BuildConfig  `yaml:"build" toml:"build"`
	Upload UploadConfig `yaml:"upload" toml:"upload"`
}

// SourceConfig configures where the upstream sources come from
type SourceConfig struct {
	Kind sourcefmt.Kind `yaml:"kind" toml:"kind"`
	// URL is the repository (git) or archive (url) location
	URL string `yaml:"url" toml:"url"`
	Ref string `yaml:"ref" toml:"ref"`
	// Path is the archive location for local sources
	Path       string `yaml:"path" toml:"path"`
	Version    string `yaml:"version" toml:"version"`
	VersionSep string `yaml:"version_sep" toml:"version_sep"`
	Template   string `yaml:"template" toml:"template"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file" toml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file" toml:"https_token_file"`
}

// BuildConfig configures mock rebuilds
type BuildConfig struct {
	Chroots []string `yaml:"chroots" toml:"chroots"`
}

// UploadConfig configures COPR uploads
type UploadConfig struct {
	Copr    string   `yaml:"copr" toml:"copr"`
	Chroots []string `yaml:"chroots" toml:"chroots"`
	Wait    bool     `yaml:"wait" toml:"wait"`
}

// LoadPackage reads and parses a package configuration file. The format is
// chosen by file extension.
func LoadPackage(path string) (*Package, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package config: %w", err)
	}

	var pkg Package
	ext := filepath.Ext(path)
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &pkg)
	case ".toml":
		err = toml.Unmarshal(data, &pkg)
	default:
		return nil, fmt.Errorf("unsupported package config format %q: %s", ext, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse package config %s: %w", path, err)
	}

	pkg.ConfName = strings.TrimSuffix(filepath.Base(path), ext)
	pkg.expandEnv()
	pkg.applyDefaults()

	if err := pkg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid package config %s: %w", path, err)
	}

	return &pkg, nil
}

// FindPackage loads the configuration named conf from dir
func FindPackage(dir, conf string) (*Package, error) {
	for _, ext := range configExtensions {
		path := filepath.Join(dir, conf+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadPackage(path)
		}
	}
	return nil, fmt.Errorf("no configuration for package %q in %s", conf, dir)
}

// ListPackages returns the sorted configuration names found in dir
func ListPackages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !isConfigExt(ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func isConfigExt(ext string) bool {
	for _, e := range configExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// expandEnv expands environment variables in all string fields
func (p *Package) expandEnv() {
	p.Name = os.ExpandEnv(p.Name)
	p.Source.URL = os.ExpandEnv(p.Source.URL)
	p.Source.Ref = os.ExpandEnv(p.Source.Ref)
	p.Source.Path = os.ExpandEnv(p.Source.Path)
	p.Source.Version = os.ExpandEnv(p.Source.Version)
	p.Auth.SSHKeyFile = os.ExpandEnv(p.Auth.SSHKeyFile)
	p.Auth.HTTPSTokenFile = os.ExpandEnv(p.Auth.HTTPSTokenFile)
	p.Upload.Copr = os.ExpandEnv(p.Upload.Copr)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (p *Package) applyDefaults() {
	if p.Name == "" {
		p.Name = p.ConfName
	}
	if p.Source.Kind == sourcefmt.KindGit && p.Source.Ref == "" {
		p.Source.Ref = DefaultGitRef
	}
	if p.Source.VersionSep == "" {
		p.Source.VersionSep = sourcefmt.DefaultVersionSep
	}
	if len(p.Upload.Chroots) == 0 {
		p.Upload.Chroots = p.Build.Chroots
	}
}

// Validate checks the package configuration for errors
func (p *Package) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Source.Version == "" {
		return fmt.Errorf("source.version is required")
	}

	switch p.Source.Kind {
	case sourcefmt.KindGit:
		if p.Source.URL == "" {
			return fmt.Errorf("source.url is required for git sources")
		}
	case sourcefmt.KindURL:
		if !strings.HasPrefix(p.Source.URL, "https://") && !strings.HasPrefix(p.Source.URL, "http://") {
			return fmt.Errorf("source.url must be an http(s) URL for url sources: %q", p.Source.URL)
		}
	case sourcefmt.KindLocal:
		if p.Source.Path == "" {
			return fmt.Errorf("source.path is required for local sources")
		}
	case "":
		return fmt.Errorf("source.kind is required")
	default:
		return fmt.Errorf("invalid source.kind: %s (must be git, url, or local)", p.Source.Kind)
	}

	// Validate auth: only one auth method may be configured
	if p.Auth.SSHKeyFile != "" && p.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}
	if p.Auth.AuthMethod() != "none" && p.Source.Kind != sourcefmt.KindGit {
		return fmt.Errorf("auth is only supported for git sources")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if p.Auth.SSHKeyFile != "" && !p.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but source.url does not use an SSH scheme (git@ or ssh://)")
	}
	if p.Auth.HTTPSTokenFile != "" && !p.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but source.url does not use HTTPS scheme")
	}

	if p.Upload.Copr != "" && !strings.Contains(p.Upload.Copr, "/") {
		return fmt.Errorf("upload.copr must be <owner>/<project>: %q", p.Upload.Copr)
	}

	return nil
}

// FormatterInput returns the formatter input for this package, without facts
func (p *Package) FormatterInput() sourcefmt.Input {
	origin := p.Source.URL
	if p.Source.Kind == sourcefmt.KindLocal {
		origin = p.Source.Path
	}
	return sourcefmt.Input{
		Version:    p.Source.Version,
		VersionSep: p.Source.VersionSep,
		Template:   p.Source.Template,
		Origin:     origin,
	}
}

// AuthMethod returns a description of the configured auth method
func (a AuthConfig) AuthMethod() string {
	if a.SSHKeyFile != "" {
		return "ssh"
	}
	if a.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the source URL uses HTTPS
func (p *Package) IsHTTPS() bool {
	return strings.HasPrefix(p.Source.URL, "https://")
}

// IsSSH returns true if the source URL uses SSH
func (p *Package) IsSSH() bool {
	return strings.HasPrefix(p.Source.URL, "git@") || strings.HasPrefix(p.Source.URL, "ssh://")
}
