// Package app holds the process-wide Context: settings, logger, state store
// and tool clients. It is created once at startup and passed explicitly to
// every component.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/metrics"
	"github.com/schaermu/rpmsnap/internal/rpmtools"
	"github.com/schaermu/rpmsnap/internal/source"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/state"
)

const httpTimeout = 10 * time.Minute

// Tools groups the external tool clients
type Tools struct {
	Bumper  rpmtools.Bumper
	Builder rpmtools.SRPMBuilder
	Mock    rpmtools.Rebuilder
	Copr    rpmtools.Uploader
}

// Context is shared by all commands of one process
type Context struct {
	Settings   *config.Settings
	Logger     *slog.Logger
	Store      state.Store
	Tools      Tools
	Formatters sourcefmt.Table
	HTTP       source.HTTPDoer
	Metrics    metrics.Recorder
	DryRun     bool
}

// New opens the state store and creates the tool clients named in settings
func New(settings *config.Settings, logger *slog.Logger) (*Context, error) {
	store, err := state.Open(settings.State.Backend, settings.State.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if settings.Metrics.Textfile != "" || settings.Watch.Listen != "" {
		recorder = metrics.NewPrometheusRecorder(nil, settings.Metrics.Textfile)
	}

	return &Context{
		Settings: settings,
		Logger:   logger,
		Store:    store,
		Tools: Tools{
			Bumper:  rpmtools.NewBumpSpec(settings.Tools.BumpSpec, settings.Packager, logger),
			Builder: rpmtools.NewRPMBuild(settings.Tools.RPMBuild, logger),
			Mock:    rpmtools.NewMock(settings.Tools.Mock, logger),
			Copr:    rpmtools.NewCopr(settings.Tools.Copr, logger),
		},
		Formatters: sourcefmt.DefaultTable(),
		HTTP:       &http.Client{Timeout: httpTimeout},
		Metrics:    recorder,
	}, nil
}

// Close releases the state store
func (c *Context) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// ToolStatus reports for every configured tool binary whether it is
// installed
func (c *Context) ToolStatus() map[string]bool {
	t := c.Settings.Tools
	status := make(map[string]bool)
	for _, bin := range []string{t.BumpSpec, t.RPMBuild, t.Mock, t.Copr, "git"} {
		status[bin] = rpmtools.Available(bin)
	}
	return status
}
