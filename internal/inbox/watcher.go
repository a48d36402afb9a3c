package inbox

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/batchwatch/constants"
)

type WatchConfig struct {
	Dir         string              // drop folder, watched recursively
	Skip        []string            // subtrees never watched, e.g. the output dir
	AllowedExts map[string]struct{} // defaults to the spreadsheet extensions
	InitialScan bool                // emit spreadsheets already in Dir
	Debounce    time.Duration       // coalesce create/write bursts from copies
}

// StartWatcher emits the path of every spreadsheet that lands in cfg.Dir until ctx ends.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		logger.Error("watcher start failed: no directory provided")
		return nil, nil, errors.New("no inbox directory provided")
	}
	if cfg.AllowedExts == nil {
		cfg.AllowedExts = constants.AllowedExtensions
	}
	skip := make([]string, 0, len(cfg.Skip))
	for _, s := range cfg.Skip {
		if s != "" {
			skip = append(skip, filepath.Clean(s))
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	err = filepath.WalkDir(cfg.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if skipped(path, skip) {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		if cfg.InitialScan && Allowed(path, cfg.AllowedExts) {
			select {
			case evCh <- path:
			default:
				logger.Warn("initial scan backlog full, skipping", "path", path)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to watch inbox directory", "dir", cfg.Dir, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		var timer *time.Timer
		flush := make(chan struct{}, 1)
		pending := map[string]struct{}{}

		sendPending := func() {
			for p := range pending {
				select {
				case evCh <- p:
				case <-ctx.Done():
					return
				}
				delete(pending, p)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case <-flush:
				sendPending()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create && !skipped(e.Name, skip) {
					tryAddDir(w, e.Name, logger)
				}
				if skipped(e.Name, skip) || !Allowed(e.Name, cfg.AllowedExts) {
					continue
				}
				if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					sendPending()
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				// The timer only signals; pending is owned by this goroutine.
				timer = time.AfterFunc(cfg.Debounce, func() {
					select {
					case flush <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Allowed reports whether path is a spreadsheet the inbox should pick up. Office lock
// files, hidden files and exported timelines are ignored.
func Allowed(path string, exts map[string]struct{}) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	if strings.HasSuffix(strings.ToLower(base), ".timeline.xlsx") {
		return false
	}
	_, ok := exts[constants.NormalizeExt(filepath.Ext(base))]
	return ok
}

func skipped(path string, skip []string) bool {
	path = filepath.Clean(path)
	for _, s := range skip {
		if path == s || strings.HasPrefix(path, s+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// tryAddDir watches newly created subdirectories.
func tryAddDir(w *fsnotify.Watcher, path string, logger *slog.Logger) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.Add(path); err != nil {
		logger.Warn("failed to add new directory to watcher", "path", path, "error", err)
	}
}
