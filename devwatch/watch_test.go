package devwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingReloader struct {
	n   atomic.Int32
	err error
}

func (r *countingReloader) Reload() error {
	r.n.Add(1)
	return r.err
}

func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)
	})

	select {
	case <-w.Watching():
	case err := <-errc:
		t.Fatalf("watcher exited: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never started")
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// TEST110: A burst of matching changes triggers a single reload
func TestBurstReloadsOnce(t *testing.T) {
	dir := t.TempDir()
	target := &countingReloader{}
	w, err := New(dir, target, WithDebounce(100*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	for i := 0; i < 5; i++ {
		write(t, filepath.Join(dir, "index.html"), "<html></html>")
		write(t, filepath.Join(dir, "app.js"), "console.log(1)")
	}

	require.Eventually(t, func() bool { return target.n.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, target.n.Load())
}

// TEST111: Files that match no pattern are ignored
func TestNonMatchingIgnored(t *testing.T) {
	dir := t.TempDir()
	target := &countingReloader{}
	w, err := New(dir, target, WithPatterns("**/*.css"), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	write(t, filepath.Join(dir, "notes.txt"), "x")
	write(t, filepath.Join(dir, "app.js"), "x")
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 0, target.n.Load())

	write(t, filepath.Join(dir, "style.css"), "body{}")
	require.Eventually(t, func() bool { return target.n.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
}

// TEST112: Subdirectories, existing and new, are watched
func TestNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	target := &countingReloader{}
	w, err := New(dir, target, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	startWatcher(t, w)

	write(t, filepath.Join(dir, "src", "main.js"), "x")
	require.Eventually(t, func() bool { return target.n.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "components"), 0o755))
	// Give the watcher time to pick up the new directory
	time.Sleep(200 * time.Millisecond)
	write(t, filepath.Join(dir, "components", "knob.js"), "x")
	require.Eventually(t, func() bool { return target.n.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

// TEST113: Invalid patterns and missing directories are reported
func TestWatcherErrors(t *testing.T) {
	_, err := New(t.TempDir(), &countingReloader{}, WithPatterns("[unclosed"))
	assert.ErrorContains(t, err, "invalid watch pattern")

	w, err := New(filepath.Join(t.TempDir(), "missing"), &countingReloader{})
	require.NoError(t, err)
	err = w.Run(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TEST114: A failing reload is logged and watching continues
func TestReloadFailureLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	dir := t.TempDir()
	target := &countingReloader{err: errors.New("view closed")}
	w, err := New(dir, target, WithDebounce(50*time.Millisecond), WithLogger(zap.New(core)))
	require.NoError(t, err)
	startWatcher(t, w)

	write(t, filepath.Join(dir, "index.html"), "x")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("reload failed").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	write(t, filepath.Join(dir, "index.html"), "y")
	require.Eventually(t, func() bool { return target.n.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}
