package registry

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/entrhq/recent-scrub/pkg/logging"
)

// WatchFile signals on C whenever the file at path is created, written,
// renamed over or removed. The parent directory is watched because writers
// replace files by rename. Mode-only changes are ignored.
func WatchFile(path string, log *logging.Logger) (*Subscription, error) {
	if log == nil {
		log = logging.Nop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, dir, err)
	}

	ch := make(chan struct{}, 1)
	done := make(chan struct{})
	base := filepath.Base(path)

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base || ev.Op == fsnotify.Chmod {
					continue
				}
				Notify(ch)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("watch error on %s: %v", path, err)
				// Overflows lose events; re-scan to be safe.
				Notify(ch)
			}
		}
	}()

	return NewSubscription(ch, func() error {
		err := w.Close()
		<-done
		return err
	}), nil
}
