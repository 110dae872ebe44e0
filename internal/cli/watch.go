package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

const defaultDebounce = 500 * time.Millisecond

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate documentation whenever the input documents change",
		Long: `Watch the local documents selected by --input (a path or a glob) and regenerate
their DOCX output after every change. Changes arriving within --debounce of
each other trigger a single regeneration. Outputs are always overwritten.

Example:
  openapi2docx watch --input openapi.json --out ./docs
  openapi2docx watch --input 'specs/**/*.json' --debounce 1s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveGenerateConfig(cmd)
			if err != nil {
				return err
			}
			debounce, err := cmd.Flags().GetDuration("debounce")
			if err != nil {
				return err
			}
			if debounce <= 0 {
				return newUsageError("watch: --debounce must be positive")
			}
			if isURL(cfg.Input) {
				return newUsageError("watch: --input must be a local path or glob")
			}
			cfg.Force = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, debounce, newLogger(cmd, cfg.App))
		},
	}
	addGenerateFlags(cmd.Flags())
	cmd.Flags().Duration("debounce", defaultDebounce, "Quiet period after a change before regenerating")
	return cmd
}

// runWatch generates once, then regenerates after each burst of changes until
// ctx is done. Generation errors are logged and the watch continues.
func runWatch(ctx context.Context, cfg *GenerateConfig, debounce time.Duration, logger hclog.Logger) error {
	logger = logger.Named("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer watcher.Close()

	dirs, err := watchDirs(cfg.Input)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch: %s: %w", dir, err)
		}
	}
	logger.Info("watching for changes", "input", cfg.Input, "dirs", dirs, "debounce", debounce)

	regenerate := func() {
		if err := generateOnce(ctx, cfg, logger); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("regeneration failed", "error", err)
		}
	}
	regenerate()

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(cfg.Input, ev) {
				continue
			}
			logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logger.Warn("event overflow, regenerating")
				timer.Reset(debounce)
				continue
			}
			logger.Warn("watch error", "error", err)
		case <-timer.C:
			regenerate()
		}
	}
}

// watchDirs returns the directories holding the input. Watching directories
// rather than files survives editors that save by rename.
func watchDirs(input string) ([]string, error) {
	if !hasGlobMeta(input) {
		if _, err := os.Stat(input); err != nil {
			return nil, newUsageError(fmt.Sprintf("watch: %v", err))
		}
		return []string{filepath.Dir(input)}, nil
	}

	base, _ := doublestar.SplitPattern(filepath.ToSlash(input))
	base = filepath.FromSlash(base)
	if st, err := os.Stat(base); err != nil || !st.IsDir() {
		return nil, newUsageError(fmt.Sprintf("watch: glob base %q is not a directory", base))
	}
	seen := map[string]struct{}{}
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			seen[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch: scan %s: %w", base, err)
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func relevant(input string, ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if !hasGlobMeta(input) {
		return filepath.Clean(ev.Name) == filepath.Clean(input)
	}
	ok, err := doublestar.PathMatch(filepath.Clean(input), filepath.Clean(ev.Name))
	return err == nil && ok
}
