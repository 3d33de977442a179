package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher reports corpus files once they have stopped changing for Settle.
type Watcher struct {
	Dir    string
	Settle time.Duration
	Tick   time.Duration

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

func NewWatcher(dir string, settle time.Duration) *Watcher {
	return &Watcher{
		Dir:       dir,
		Settle:    settle,
		Tick:      250 * time.Millisecond,
		lastWrite: make(map[string]time.Time),
	}
}

// Watch blocks until ctx is cancelled, sending settled file paths to out.
func (w *Watcher) Watch(ctx context.Context, out chan<- string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}
	log.Info().Str("dir", w.Dir).Dur("settle", w.Settle).Msg("watching corpus directory")

	tick := w.Tick
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watcher stopped")
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.observe(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watcher error")
		case now := <-ticker.C:
			for _, path := range w.settled(now) {
				select {
				case out <- path:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) observe(ev fsnotify.Event) {
	if !Supported(ev.Name) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		delete(w.lastWrite, ev.Name)
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if _, seen := w.lastWrite[ev.Name]; !seen {
			log.Debug().Str("file", filepath.Base(ev.Name)).Msg("new file detected")
		}
		w.lastWrite[ev.Name] = time.Now()
	}
}

// settled pops every file whose last write is older than Settle.
func (w *Watcher) settled(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for path, last := range w.lastWrite {
		if now.Sub(last) >= w.Settle {
			ready = append(ready, path)
			delete(w.lastWrite, path)
		}
	}
	return ready
}
