package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherSettles(t *testing.T) {
	w := NewWatcher(t.TempDir(), time.Second)
	start := time.Now()

	w.observe(fsnotify.Event{Name: "/corpus/1992.pdf", Op: fsnotify.Create})
	w.observe(fsnotify.Event{Name: "/corpus/notes.exe", Op: fsnotify.Create})

	assert.Empty(t, w.settled(start))
	assert.Equal(t, []string{"/corpus/1992.pdf"}, w.settled(start.Add(2*time.Second)))
	assert.Empty(t, w.settled(start.Add(3*time.Second)))
}

func TestWatcherForgetsRemovedFiles(t *testing.T) {
	w := NewWatcher(t.TempDir(), 0)
	w.observe(fsnotify.Event{Name: "/corpus/1992.pdf", Op: fsnotify.Write})
	w.observe(fsnotify.Event{Name: "/corpus/1992.pdf", Op: fsnotify.Remove})
	assert.Empty(t, w.settled(time.Now().Add(time.Hour)))
}

func TestWatcherEmitsWrittenFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, 50*time.Millisecond)
	w.Tick = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, out) }()

	path := filepath.Join(dir, "1992.txt")
	require.Eventually(t, func() bool {
		// the watch may not be registered yet, so keep touching the file
		_ = os.WriteFile(path, []byte("Dear shareholders"), 0o644)
		select {
		case got := <-out:
			return got == path
		default:
			return false
		}
	}, 4*time.Second, 100*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
