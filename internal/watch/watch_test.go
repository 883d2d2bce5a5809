package watch_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/paracycle/internal/watch"
)

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "shared.go")
	require.NoError(t, os.WriteFile(target, []byte("package x"), 0644))

	w, err := watch.New(watch.Config{Root: dir, DebounceDur: 50 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(target, []byte(fmt.Sprintf("package x // %d", i)), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case c := <-changes:
		require.Equal(t, target, c.Path)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("expected a debounced change notification")
	}

	select {
	case <-changes:
		t.Fatal("unexpected second notification from coalesced writes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresDotfiles(t *testing.T) {
	dir := t.TempDir()
	hidden := filepath.Join(dir, ".swap")

	w, err := watch.New(watch.Config{Root: dir, DebounceDur: 20 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0644))

	select {
	case c := <-changes:
		t.Fatalf("unexpected notification for dotfile: %+v", c)
	case <-time.After(100 * time.Millisecond):
	}
}
