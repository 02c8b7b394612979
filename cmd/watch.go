package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/stamp"
)

// debounce collapses the burst of events an editor produces for one save.
const debounce = 200 * time.Millisecond

// watchAndApply re-runs Apply whenever a local input is written or re-created, until ctx is done.
// Directories are watched instead of files so that inputs replaced by rename are still seen.
func watchAndApply(ctx context.Context, s *stamp.Stamp, logger *slog.Logger, base, logo, output string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()

	targets, dirs, err := watchTargets(base, logo)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("nothing to watch: both inputs are URLs")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	logger.Info("watching", slog.Any("dirs", dirs))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[abs]; !ok {
				continue
			}
			logger.Debug("input changed", slog.String("path", abs), slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			// Apply logs its own failures. Keep watching.
			_, _ = s.Apply(ctx, base, logo, output)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("failed to watch", slog.String("error", err.Error()))
		}
	}
}

// watchTargets returns the absolute paths of the local inputs and the directories holding them.
func watchTargets(paths ...string) (map[string]struct{}, []string, error) {
	targets := map[string]struct{}{}
	seen := map[string]struct{}{}
	var dirs []string
	for _, p := range paths {
		if stamp.IsURL(p) {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, err
		}
		targets[abs] = struct{}{}
		dir := filepath.Dir(abs)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}
	return targets, dirs, nil
}
