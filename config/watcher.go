package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/flokli/rgb-strand-agent/led"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads the config file whenever it changes and hands out the
// new led settings. Only the [led] section is applied at runtime.
type Watcher struct {
	path     string
	load     func(path string) (*Config, error)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	reloads  chan led.Settings
}

// NewWatcher watches path. load is called on every change and should apply
// the same overrides as at startup.
func NewWatcher(path string, load func(path string) (*Config, error), debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create watcher: %w", err)
	}
	// watch the directory, editors tend to replace the file.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("unable to watch %s: %w", path, err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		load:     load,
		debounce: debounce,
		watcher:  fw,
		reloads:  make(chan led.Settings, 1),
	}, nil
}

// Reloads delivers the led settings of every successfully reloaded config.
func (w *Watcher) Reloads() <-chan led.Settings {
	return w.reloads
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	l := log.WithField("path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				l.WithField("op", ev.Op.String()).Trace("config file changed")
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			l.WithError(err).Warn("config watcher error")
		case <-timer.C:
			c, err := w.load(w.path)
			if err != nil {
				l.WithError(err).Warn("unable to reload config, keeping the current one")
				continue
			}
			if err := ValidateSettings(&c.LED); err != nil {
				l.WithError(err).Warn("reloaded config is invalid, keeping the current one")
				continue
			}
			l.Info("config reloaded")

			// only the latest settings matter.
			select {
			case <-w.reloads:
			default:
			}
			w.reloads <- c.LED
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
