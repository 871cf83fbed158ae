package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 50 * time.Millisecond

func newTestWatcher(t *testing.T, root string, ignore ...string) *Watcher {
	t.Helper()
	w, err := New(Options{Root: root, Ignore: ignore, Debounce: testDebounce}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func expectChange(t *testing.T, w *Watcher) Change {
	t.Helper()
	select {
	case change := <-w.Changes():
		return change
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change")
		return Change{}
	}
}

func expectNoChange(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case change := <-w.Changes():
		t.Fatalf("unexpected change: %v", change.Paths)
	case <-time.After(10 * testDebounce):
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_ReportsChange(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	target := filepath.Join(root, "bot.py")
	writeFile(t, target, "print('hi')\n")

	change := expectChange(t, w)
	assert.Contains(t, change.Paths, target)
	assert.False(t, change.At.IsZero())
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	for i := 0; i < 10; i++ {
		writeFile(t, filepath.Join(root, "bot.py"), "v")
		writeFile(t, filepath.Join(root, "util.py"), "v")
	}

	change := expectChange(t, w)
	assert.Len(t, change.Paths, 2, "paths are deduplicated within a burst")
	expectNoChange(t, w)
}

func TestWatcher_IgnoresDefaultsAndPatterns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".venv", "bin"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))

	w := newTestWatcher(t, root, "data", "*.tmp")

	writeFile(t, filepath.Join(root, ".venv", "bin", "python"), "x")
	writeFile(t, filepath.Join(root, "data", "cache.json"), "x")
	writeFile(t, filepath.Join(root, "bot.log"), "x")
	writeFile(t, filepath.Join(root, "scratch.tmp"), "x")
	expectNoChange(t, w)

	writeFile(t, filepath.Join(root, "config.json"), "x")
	change := expectChange(t, w)
	assert.Equal(t, []string{filepath.Join(root, "config.json")}, change.Paths)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	sub := filepath.Join(root, "cogs")
	require.NoError(t, os.Mkdir(sub, 0o755))
	expectChange(t, w)

	target := filepath.Join(sub, "news.py")
	writeFile(t, target, "x")
	change := expectChange(t, w)
	assert.Contains(t, change.Paths, target)
}

func TestWatcher_Ignored(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root, "logs/*.txt")

	tests := map[string]bool{
		filepath.Join(root, "bot.py"):                        false,
		filepath.Join(root, ".git", "HEAD"):                  true,
		filepath.Join(root, "node_modules", "x", "index.js"): true,
		filepath.Join(root, "src", "__pycache__", "a.pyc"):   true,
		filepath.Join(root, "out.log"):                       true,
		filepath.Join(root, "logs", "a.txt"):                 true,
		filepath.Join(root, "logs", "a.json"):                false,
		root:                                                 false,
	}
	for path, expected := range tests {
		assert.Equal(t, expected, w.Ignored(path), path)
	}
}

func TestNew_InvalidRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}, logging.NewNopLogger())
	assert.True(t, errors.IsIOError(err))

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "x")
	_, err = New(Options{Root: file}, logging.NewNopLogger())
	assert.True(t, errors.IsValidationError(err))
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := New(Options{Root: t.TempDir()}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
