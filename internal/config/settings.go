package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/schaermu/rpmsnap/internal/state"
)

// EnvPrefix prefixes environment overrides, e.g. RPMSNAP_STATE_BACKEND
const EnvPrefix = "RPMSNAP"

// Settings holds the global configuration shared by all packages.
// Values are populated from the config file, .env, RPMSNAP_* env vars and
// CLI flags.
type Settings struct {
	BaseDir  string          `mapstructure:"basedir"`
	Packager string          `mapstructure:"packager"`
	State    StateSettings   `mapstructure:"state"`
	Tools    ToolSettings    `mapstructure:"tools"`
	Build    BuildSettings   `mapstructure:"build"`
	Metrics  MetricsSettings `mapstructure:"metrics"`
	Watch    WatchSettings   `mapstructure:"watch"`
}

// StateSettings selects the state store backend
type StateSettings struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ToolSettings names the external binaries
type ToolSettings struct {
	BumpSpec string `mapstructure:"bumpspec"`
	RPMBuild string `mapstructure:"rpmbuild"`
	Mock     string `mapstructure:"mock"`
	Copr     string `mapstructure:"copr"`
}

// BuildSettings configures the build root
type BuildSettings struct {
	KeepBuildRoot bool `mapstructure:"keep_build_root"`
}

// MetricsSettings configures the Prometheus textfile output
type MetricsSettings struct {
	Textfile string `mapstructure:"textfile"`
}

// WatchSettings configures watch mode
type WatchSettings struct {
	Interval time.Duration `mapstructure:"interval"`
	Debounce time.Duration `mapstructure:"debounce"`
	// Listen is the address of the status and webhook server; empty
	// disables it unless the socket is passed in by systemd
	Listen  string          `mapstructure:"listen"`
	Webhook WebhookSettings `mapstructure:"webhook"`
}

// WebhookSettings configures the GitHub push webhook of watch mode
type WebhookSettings struct {
	SecretFile        string   `mapstructure:"secret_file"`
	AllowedEventTypes []string `mapstructure:"allowed_event_types"`
	AllowedRefs       []string `mapstructure:"allowed_refs"`
}

// NewViper returns a viper instance with defaults, env binding and the
// config file location set up. configFile may be empty to search the
// default locations.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()

	v.SetDefault("basedir", "${HOME}/.local/share/rpmsnap")
	v.SetDefault("packager", "")
	v.SetDefault("state.backend", state.BackendJSON)
	v.SetDefault("state.path", "")
	v.SetDefault("tools.bumpspec", "rpmdev-bumpspec")
	v.SetDefault("tools.rpmbuild", "rpmbuild")
	v.SetDefault("tools.mock", "mock")
	v.SetDefault("tools.copr", "copr-cli")
	v.SetDefault("build.keep_build_root", false)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("watch.interval", "1h")
	v.SetDefault("watch.debounce", "2s")
	v.SetDefault("watch.listen", "")
	v.SetDefault("watch.webhook.secret_file", "")
	v.SetDefault("watch.webhook.allowed_event_types", []string{"push"})

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "rpmsnap"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadSettings reads the config file (when present) and unmarshals the
// settings from v
func LoadSettings(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.expandEnv()
	s.applyDefaults()

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	return &s, nil
}

func (s *Settings) expandEnv() {
	s.BaseDir = os.ExpandEnv(s.BaseDir)
	s.Packager = os.ExpandEnv(s.Packager)
	s.State.Path = os.ExpandEnv(s.State.Path)
	s.Metrics.Textfile = os.ExpandEnv(s.Metrics.Textfile)
	s.Watch.Listen = os.ExpandEnv(s.Watch.Listen)
	s.Watch.Webhook.SecretFile = os.ExpandEnv(s.Watch.Webhook.SecretFile)
}

func (s *Settings) applyDefaults() {
	if s.State.Backend == "" {
		s.State.Backend = state.BackendJSON
	}
	if s.State.Path == "" {
		name := "state.json"
		if s.State.Backend == state.BackendSQLite {
			name = "state.db"
		}
		s.State.Path = filepath.Join(s.BaseDir, name)
	}
}

// Validate checks the settings for errors
func (s *Settings) Validate() error {
	if s.BaseDir == "" {
		return fmt.Errorf("basedir is required")
	}
	if !filepath.IsAbs(s.BaseDir) {
		return fmt.Errorf("basedir must be an absolute path: %s", s.BaseDir)
	}

	switch s.State.Backend {
	case state.BackendJSON, state.BackendSQLite:
		// valid
	default:
		return fmt.Errorf("invalid state.backend: %s (must be %s or %s)", s.State.Backend, state.BackendJSON, state.BackendSQLite)
	}

	if s.Watch.Interval < 0 {
		return fmt.Errorf("watch.interval must not be negative")
	}

	if s.Watch.Webhook.SecretFile != "" && !filepath.IsAbs(s.Watch.Webhook.SecretFile) {
		return fmt.Errorf("watch.webhook.secret_file must be an absolute path: %s", s.Watch.Webhook.SecretFile)
	}

	return nil
}

// ConfigsDir returns the directory holding package configurations
func (s *Settings) ConfigsDir() string {
	return filepath.Join(s.BaseDir, "configs")
}

// SpecsDir returns the directory holding canonical spec files
func (s *Settings) SpecsDir() string {
	return filepath.Join(s.BaseDir, "specs")
}

// SpecPath returns the canonical spec file of conf
func (s *Settings) SpecPath(conf string) string {
	return filepath.Join(s.SpecsDir(), conf+".spec")
}

// SourcesDir returns the download and checkout directory of conf
func (s *Settings) SourcesDir(conf string) string {
	return filepath.Join(s.BaseDir, "sources", conf)
}

// BuildDir returns the parent of all build roots
func (s *Settings) BuildDir() string {
	return filepath.Join(s.BaseDir, "build")
}

// PackagesDir returns the directory receiving built SRPMs
func (s *Settings) PackagesDir() string {
	return filepath.Join(s.BaseDir, "packages")
}

// ResultsDir returns the directory receiving mock results
func (s *Settings) ResultsDir(conf string) string {
	return filepath.Join(s.BaseDir, "results", conf)
}
