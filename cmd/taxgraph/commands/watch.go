package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/taxgraph/taxgraph/pkg/config"
	"github.com/taxgraph/taxgraph/pkg/engine"
	"github.com/taxgraph/taxgraph/pkg/telemetry"
)

// watchDebounce coalesces the bursts of events editors produce on save.
const watchDebounce = 250 * time.Millisecond

// watchProject computes once, then again whenever the run configuration or
// one of the files it names changes, until ctx is cancelled.
func watchProject(
	ctx context.Context,
	t *telemetry.Telemetry,
	path string,
	flags computeFlags,
	stdout, stderr io.Writer,
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if server := t.Metrics.StartMetricsServer(t.Logger); server != nil {
		log.Info().Str("addr", server.Addr).Msg("Serving metrics")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	compute := func() map[string]bool {
		if err := runCompute(ctx, t, path, flags, stdout, stderr); err != nil {
			log.Error().Err(err).Str("code", engine.CodeOf(err)).Msg("Computation failed")
		}
		files := projectFiles(path)
		for file := range files {
			if err := watcher.Add(filepath.Dir(file)); err != nil {
				log.Warn().Err(err).Str("path", file).Msg("Cannot watch file")
			}
		}
		return files
	}

	files := compute()
	log.Info().Int("files", len(files)).Msg("Watching for changes")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !files[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("File changed")
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")

		case <-fire:
			fire = nil
			log.Info().Msg("Change detected, recomputing")
			files = compute()
		}
	}
}

// projectFiles returns the absolute paths of the run configuration and every
// input it names. The output is excluded so writing it does not trigger a
// new run.
func projectFiles(path string) map[string]bool {
	files := make(map[string]bool)
	add := func(p string) {
		if p == "" || p == "-" {
			return
		}
		if abs, err := filepath.Abs(p); err == nil {
			files[filepath.Clean(abs)] = true
		}
	}
	add(path)

	run, err := config.NewRunLoader().Load(path)
	if err != nil {
		return files
	}

	add(run.Data.Path)
	add(run.Params)
	for _, p := range run.Functions {
		add(p)
	}
	for _, p := range run.Overrides {
		add(p)
	}
	if run.Output != nil {
		if abs, err := filepath.Abs(run.Output.Path); err == nil {
			delete(files, filepath.Clean(abs))
		}
	}
	return files
}
