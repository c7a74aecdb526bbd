// Package watch reloads file-backed resources when their directory changes.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher calls a reload callback once a burst of filesystem events in a
// directory has settled.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	callback func()
	reload   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Dir starts watching directory. callback runs on its own goroutine, never
// concurrently with itself.
func Dir(
	directory string,
	debounce time.Duration,
	callback func(),
) (
	*Watcher,
	error,
) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(directory); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch '%s': %w", directory, err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		watcher:  watcher,
		debounce: debounce,
		callback: callback,
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.scheduleReload()
	go w.handleEvents(directory)
	return w, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) handleEvents(directory string) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				select {
				case w.reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error in %s: %v", directory, err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.reload:
			if timer != nil {
				timer.Reset(w.debounce)
			} else {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			}

		case <-fire:
			fire = nil
			timer = nil
			w.callback()

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}
