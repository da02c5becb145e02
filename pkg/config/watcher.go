package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the catalog source files and invokes onReload with a
// freshly loaded catalog after changes settle. A reload that fails to load
// or validate is logged and dropped; the previous catalog stays live.
type Watcher struct {
	configDir string
	onReload  func(*Catalog)
	debounce  time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
}

// NewWatcher creates a watcher for the catalog under configDir.
func NewWatcher(configDir string, onReload func(*Catalog)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(configDir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{
		configDir: configDir,
		onReload:  onReload,
		debounce:  500 * time.Millisecond,
		fsw:       fsw,
		done:      make(chan struct{}),
	}, nil
}

// Start launches the watch loop. Editors typically produce bursts of write
// events; the loop debounces before reloading.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					timerC = timer.C
				} else {
					timer.Reset(w.debounce)
				}
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("Config watcher error", "error", err)
			case <-timerC:
				timer = nil
				timerC = nil
				w.reload(ctx)
			}
		}
	}()
}

// Stop closes the underlying fs watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	_ = w.fsw.Close()
	<-w.done
}

func (w *Watcher) reload(ctx context.Context) {
	catalog, err := Initialize(ctx, w.configDir)
	if err != nil {
		slog.Error("Catalog reload failed, keeping previous configuration", "error", err)
		return
	}
	slog.Info("Catalog reloaded", "config_dir", w.configDir)
	w.onReload(catalog)
}
