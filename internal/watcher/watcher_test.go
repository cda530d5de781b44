package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncesBurstIntoSingleChange(t *testing.T) {
	dir := t.TempDir()

	w, err := New([]string{dir}, []string{"*-database.yml"}, 40*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	var mu sync.Mutex
	var changes []Change
	w.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	})
	w.Start()

	path := filepath.Join(dir, "trades-database.yml")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("databases: {}"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	}, 2*time.Second, 10*time.Millisecond, "burst of writes within the debounce window must coalesce into one change")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, changes[0].Paths, path)
}

func TestWatcherIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()

	w, err := New([]string{dir}, []string{"*-database.yml"}, 30*time.Millisecond, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	var mu sync.Mutex
	var fired bool
	w.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	})
	w.Start()

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired, "a non-matching file must never trigger a change notification")
}

func TestOpKind(t *testing.T) {
	// opKind is exercised indirectly by the debounce test above via real
	// fsnotify events; this documents the mapping directly.
	assert.NotEmpty(t, opKind(0))
}
