package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/rpmsnap/internal/activation"
	"github.com/schaermu/rpmsnap/internal/app"
	"github.com/schaermu/rpmsnap/internal/batch"
	"github.com/schaermu/rpmsnap/internal/config"
	"github.com/schaermu/rpmsnap/internal/construct"
	"github.com/schaermu/rpmsnap/internal/metrics"
	"github.com/schaermu/rpmsnap/internal/sourcefmt"
	"github.com/schaermu/rpmsnap/internal/watch"
	"github.com/schaermu/rpmsnap/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// Package selection and prepare flags
	allPackages bool
	force       bool
	message     string
	refetch     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rpmsnap",
	Short: "Build RPM snapshot packages from upstream sources",
	Long: `rpmsnap fetches upstream sources (git, url or local), reconciles the
Version and Release tags of a package's spec file and builds a source RPM.

Release numbers are bumped automatically: a packaging-only change increments
the release, a new snapshot appends its date and commit, and a new upstream
version resets the release to 1.`,
	SilenceUsage: true,
}

var getCmd = &cobra.Command{
	Use:   "get [package...]",
	Short: "Fetch package sources",
	RunE:  runAction(batch.ActionGet),
}

var prepareCmd = &cobra.Command{
	Use:   "prepare [package...]",
	Short: "Reconcile the spec file and build the source RPM",
	Long: `Prepare fetches the sources, decides how Version and Release have to change,
bumps the spec file and builds the source RPM. The canonical spec file and
the package state are only updated once the source RPM was built and
verified.`,
	RunE: runAction(batch.ActionPrepare),
}

var buildCmd = &cobra.Command{
	Use:   "build [package...]",
	Short: "Rebuild the last prepared source RPM with mock",
	RunE:  runAction(batch.ActionBuild),
}

var uploadCmd = &cobra.Command{
	Use:   "upload [package...]",
	Short: "Submit the last prepared source RPM to copr",
	RunE:  runAction(batch.ActionUpload),
}

var chainCmd = &cobra.Command{
	Use:   "chain [package...]",
	Short: "Prepare, build and upload",
	Long: `Chain runs prepare and, when the release changed, build and upload for each
package. Build and upload are skipped for packages that do not configure
chroots or a copr repository.`,
	RunE: runAction(batch.ActionChain),
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit the package state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages with a state record",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <package>",
	Short: "Print the state record of a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Forget a package; its next prepare starts a new release series",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRemove,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run chain for all packages periodically and on changes",
	Long: `Watch runs chain for every configured package on start, every watch.interval
and whenever a package configuration or spec file changes. At most one run is
in flight; changes arriving meanwhile queue a single follow-up run.

With watch.listen set (or a socket passed by systemd) an HTTP server exposes
/healthz, /metrics and, if watch.webhook.secret_file is set, a GitHub push
webhook on /hooks/github that requests a run.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rpmsnap %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		printToolStatus()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/rpmsnap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with environment variables to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	for _, cmd := range []*cobra.Command{getCmd, prepareCmd, buildCmd, uploadCmd, chainCmd} {
		cmd.Flags().BoolVar(&allPackages, "all", false, "run for every configured package")
		cmd.Flags().BoolVar(&refetch, "refetch", false, "download sources again even if present")
	}
	for _, cmd := range []*cobra.Command{prepareCmd, chainCmd} {
		cmd.Flags().BoolVarP(&force, "force", "f", false, "bump the release even if nothing changed")
		cmd.Flags().StringVarP(&message, "message", "m", "", "changelog message for the release bump")
	}

	stateCmd.AddCommand(stateListCmd, stateShowCmd, stateRemoveCmd)

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAction(action batch.Action) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		logger := setupLogger()

		c, err := newAppContext(logger)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		names, err := selectPackages(c.Settings, args, allPackages)
		if err != nil {
			return err
		}

		reports := newRunner(c).Run(ctx, action, names)
		batch.WriteSummary(cmd.OutOrStdout(), reports)

		if failed := batch.Failed(reports); failed > 0 {
			return fmt.Errorf("%d of %d package(s) failed", failed, len(reports))
		}
		return nil
	}
}

func newRunner(c *app.Context) *batch.Runner {
	opts := construct.Options{
		Force:   force,
		Message: message,
		Refetch: refetch,
		DryRun:  dryRun,
	}
	loader := func(conf string) (*config.Package, error) {
		return config.FindPackage(c.Settings.ConfigsDir(), conf)
	}
	return batch.NewRunner(construct.New(c), loader, c.Metrics, c.Logger, opts)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	c, err := newAppContext(logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	runner := newRunner(c)
	run := func(ctx context.Context) {
		names, err := config.ListPackages(c.Settings.ConfigsDir())
		if err != nil {
			logger.Error("failed to list packages", "error", err)
			return
		}
		reports := runner.Run(ctx, batch.ActionChain, names)
		batch.WriteSummary(cmd.OutOrStdout(), reports)
	}

	w, err := watch.New(run, watch.Options{
		Interval: c.Settings.Watch.Interval,
		Debounce: c.Settings.Watch.Debounce,
		Dirs:     []string{c.Settings.ConfigsDir(), c.Settings.SpecsDir()},
	}, logger)
	if err != nil {
		return err
	}

	ln, activated, err := activation.Listen(c.Settings.Watch.Listen)
	if err != nil {
		return err
	}
	if ln == nil {
		return w.Run(ctx)
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", ln.Addr().String())
	}

	server, err := webhook.NewServer(webhook.Options{
		SecretFile:        c.Settings.Watch.Webhook.SecretFile,
		AllowedEventTypes: c.Settings.Watch.Webhook.AllowedEventTypes,
		AllowedRefs:       c.Settings.Watch.Webhook.AllowedRefs,
		Metrics:           metrics.HTTPHandler(c.Metrics),
		Repos:             func() []string { return gitURLs(c.Settings, logger) },
	}, w.Notify, logger)
	if err != nil {
		_ = ln.Close()
		return err
	}

	watchErr := make(chan error, 1)
	go func() {
		err := w.Run(ctx)
		if err != nil {
			cancel()
		}
		watchErr <- err
	}()

	serveErr := server.Serve(ctx, ln)
	if serveErr != nil {
		logger.Error("http server failed", "error", serveErr)
		cancel()
	}
	if err := <-watchErr; err != nil {
		return err
	}
	return serveErr
}

// gitURLs returns the upstream URLs of all git-sourced packages
func gitURLs(settings *config.Settings, logger *slog.Logger) []string {
	names, err := config.ListPackages(settings.ConfigsDir())
	if err != nil {
		logger.Warn("failed to list packages", "error", err)
		return nil
	}
	var urls []string
	for _, name := range names {
		pkg, err := config.FindPackage(settings.ConfigsDir(), name)
		if err != nil {
			logger.Warn("skipping invalid package configuration", "package", name, "error", err)
			continue
		}
		if pkg.Source.Kind == sourcefmt.KindGit {
			urls = append(urls, pkg.Source.URL)
		}
	}
	return urls
}

// printToolStatus lists the external tools and whether they are installed.
// Nothing is printed when the settings cannot be loaded.
func printToolStatus() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	settings, err := loadSettings(logger)
	if err != nil {
		return
	}
	c := &app.Context{Settings: settings}
	status := c.ToolStatus()
	tools := make([]string, 0, len(status))
	for tool := range status {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	fmt.Println("  tools:")
	for _, tool := range tools {
		mark := "missing"
		if status[tool] {
			mark = "ok"
		}
		fmt.Printf("    %-16s %s\n", tool, mark)
	}
}

func runStateList(cmd *cobra.Command, args []string) error {
	c, err := newAppContext(setupLogger())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	names, err := c.Store.List(cmd.Context())
	if err != nil {
		return err
	}
	for _, name := range names {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	c, err := newAppContext(setupLogger())
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	facts, err := c.Store.Read(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return fmt.Errorf("no state recorded for package %q", args[0])
	}
	for _, k := range facts.Keys() {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, facts[k])
	}
	return nil
}

func runStateRemove(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	c, err := newAppContext(logger)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if dryRun {
		logger.Info("[dry-run] would remove state", "package", args[0])
		return nil
	}
	if err := c.Store.Remove(cmd.Context(), args[0]); err != nil {
		return err
	}
	logger.Info("state removed", "package", args[0])
	return nil
}

// selectPackages returns args, or every configured package when all is set
func selectPackages(settings *config.Settings, args []string, all bool) ([]string, error) {
	switch {
	case all && len(args) > 0:
		return nil, fmt.Errorf("--all cannot be combined with package names")
	case all:
		names, err := config.ListPackages(settings.ConfigsDir())
		if err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no package configurations in %s", settings.ConfigsDir())
		}
		return names, nil
	case len(args) == 0:
		return nil, fmt.Errorf("no packages given (pass package names or --all)")
	default:
		return args, nil
	}
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries the summary
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadSettings(logger *slog.Logger) (*config.Settings, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	v := config.NewViper(cfgFile)
	settings, err := config.LoadSettings(v)
	if err != nil {
		return nil, err
	}

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("configuration loaded", "path", used)
	}
	logger.Debug("settings",
		"basedir", settings.BaseDir,
		"state_backend", settings.State.Backend,
		"state_path", settings.State.Path)

	return settings, nil
}

func newAppContext(logger *slog.Logger) (*app.Context, error) {
	settings, err := loadSettings(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c, err := app.New(settings, logger)
	if err != nil {
		return nil, err
	}
	c.DryRun = dryRun
	return c, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
