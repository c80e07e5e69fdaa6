package config

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DriftWatcher watches the config file for on-disk changes. The running
// process never reloads config; a detected change only flags that a
// restart is required, which server_status surfaces to operators.
type DriftWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	bootHash string
	drifted  atomic.Bool
}

// NewDriftWatcher creates a watcher for the config file loaded at boot.
// A missing file is not an error; the watcher simply never fires.
func NewDriftWatcher(path, bootHash string) (*DriftWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := watcher.Add(path); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", path, err)
			}
		}
	}

	return &DriftWatcher{
		watcher:  watcher,
		path:     path,
		bootHash: bootHash,
	}, nil
}

// Pending reports whether the file on disk no longer matches the config
// the process booted with.
func (w *DriftWatcher) Pending() bool {
	return w.drifted.Load()
}

// Run watches for file changes and compares hashes. Blocks until ctx is
// cancelled.
func (w *DriftWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	// Debounce: wait 500ms after the last write before hashing
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, w.compare)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
		}
	}
}

func (w *DriftWatcher) compare() {
	hash, err := HashFile(w.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config watcher: cannot hash %s: %v\n", w.path, err)
		return
	}
	if hash != w.bootHash {
		if !w.drifted.Swap(true) {
			fmt.Fprintf(os.Stderr, "config changed on disk (%s); restart to apply\n", hash)
		}
		return
	}
	// The file was put back; clear the flag.
	w.drifted.Store(false)
}
