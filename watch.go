package svcgroup

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// DefaultReloadDebounce coalesces bursts of writes into one reload
const DefaultReloadDebounce = 250 * time.Millisecond

// ReloadEvent reports a reload triggered by a file change
type ReloadEvent struct {
	// Path is the watched file that changed
	Path string
	// Err is the reload (or watcher) error, if any
	Err error
}

// WatchCleanupFunc stops a watch and waits for its goroutines
type WatchCleanupFunc func() error

// ChangeFunc is called once per debounced change of a watched file
type ChangeFunc func(ctx context.Context, path string) error

// ReloadOnChange reloads the group whenever one of paths is written,
// created or replaced. Events are delivered on the returned channel, which
// is closed by cleanup or when ctx ends.
func (c *Controller) ReloadOnChange(ctx context.Context, debounce time.Duration, paths ...string) (<-chan ReloadEvent, WatchCleanupFunc, error) {
	return WatchChanges(ctx, debounce, func(ctx context.Context, path string) error {
		c.logger.WithField("path", path).Info("watched file changed, reloading")
		return c.Reload(ctx)
	}, paths...)
}

// WatchChanges calls fn whenever one of paths is written, created or
// replaced. The parent directories are watched so that editors and config
// managers that rename files into place are seen too. Bursts of changes
// within debounce collapse into one call, and calls never overlap.
// Cleanup waits for an in-flight call to return.
func WatchChanges(ctx context.Context, debounce time.Duration, fn ChangeFunc, paths ...string) (<-chan ReloadEvent, WatchCleanupFunc, error) {
	if fn == nil {
		return nil, nil, fmt.Errorf("no change handler")
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no paths to watch")
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("creating watcher: %w", err)
	}

	// base name -> full path, per watched directory
	targets := make(map[string]map[string]string)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = watcher.Close()
			return nil, nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		dir := filepath.Dir(abs)
		if _, ok := targets[dir]; !ok {
			if err := watcher.Add(dir); err != nil {
				_ = watcher.Close()
				return nil, nil, fmt.Errorf("watching %s: %w", dir, err)
			}
			targets[dir] = make(map[string]string)
		}
		targets[dir][filepath.Base(abs)] = abs
	}

	ch := make(chan ReloadEvent, 10)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	send := func(ev ReloadEvent) {
		select {
		case ch <- ev:
		case <-sctx.Stopping():
		}
	}

	var (
		mu        sync.Mutex
		debouncer *time.Timer
		pending   string
	)
	fire := make(chan string, 1)

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case <-sctx.Done():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				full, ok := targets[filepath.Dir(event.Name)][filepath.Base(event.Name)]
				if !ok {
					continue
				}

				mu.Lock()
				pending = full
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(debounce, func() {
					mu.Lock()
					p := pending
					mu.Unlock()
					select {
					case fire <- p:
					default:
					}
				})
				mu.Unlock()

			case path := <-fire:
				send(ReloadEvent{Path: path, Err: fn(sctx, path)})

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil {
					send(ReloadEvent{Err: err})
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
