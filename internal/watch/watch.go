// Package watch keeps packages up to date in a long-running process. Runs are
// started on a fixed interval and whenever a package configuration or spec
// file changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
)

// Options configure a Watcher
type Options struct {
	// Interval between scheduled runs; zero disables the schedule
	Interval time.Duration
	// Debounce is the quiet period after a file change before a run starts
	Debounce time.Duration
	// Dirs are watched for changes; missing directories are created
	Dirs []string
	// SkipInitialRun disables the run performed on start
	SkipInitialRun bool
}

// Watcher triggers runs from a schedule and from file changes
type Watcher struct {
	opts     Options
	logger   *slog.Logger
	runner   *coalescer
	debounce *debouncer
	notify   chan string
}

// New creates a watcher calling run for every triggered pass
func New(run RunFunc, opts Options, logger *slog.Logger) (*Watcher, error) {
	if opts.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative, got %s", opts.Interval)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	return &Watcher{
		opts:     opts,
		logger:   logger,
		runner:   newCoalescer(run, logger),
		debounce: &debouncer{delay: opts.Debounce},
		notify:   make(chan string, 1),
	}, nil
}

// Notify requests a debounced run from outside, e.g. from a webhook. It
// never blocks; a request arriving while another is queued is merged.
func (w *Watcher) Notify(reason string) {
	select {
	case w.notify <- reason:
	default:
	}
}

// Run blocks until ctx is cancelled. An initial run happens before the
// schedule and the file watches start.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.opts.SkipInitialRun {
		w.logger.Info("performing initial run before watching")
		w.runner.trigger(ctx, "startup")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	for _, dir := range w.opts.Dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create watched directory %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		w.logger.Debug("watching directory", "path", dir)
	}

	scheduler, err := w.schedule(ctx)
	if err != nil {
		return err
	}

	w.logger.Info("watching for changes", "interval", w.opts.Interval, "debounce", w.opts.Debounce, "dirs", w.opts.Dirs)
	w.loop(ctx, fsw)

	w.logger.Info("stopping watcher")
	w.debounce.stop()
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			w.logger.Warn("failed to stop scheduler", "error", err)
		}
	}
	w.runner.stop()
	return nil
}

func (w *Watcher) schedule(ctx context.Context) (gocron.Scheduler, error) {
	if w.opts.Interval == 0 {
		return nil, nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(w.opts.Interval),
		gocron.NewTask(func() { w.runner.trigger(ctx, "schedule") }),
		gocron.WithName("rpmsnap-chain"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}
	s.Start()
	return s, nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			w.logger.Debug("change detected", "file", event.Name, "op", event.Op.String())
			w.debounce.trigger(func() {
				w.runner.trigger(ctx, "change")
			})
		case reason := <-w.notify:
			w.logger.Debug("run requested", "reason", reason)
			w.debounce.trigger(func() {
				w.runner.trigger(ctx, reason)
			})
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)
		}
	}
}

// relevant filters out chmod-only events, hidden and temporary files and spec
// backups
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	return !strings.HasSuffix(name, ".old")
}
