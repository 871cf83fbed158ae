package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// DefaultIgnore lists names skipped in addition to configured patterns
var DefaultIgnore = []string{".git", "node_modules", ".venv", "__pycache__", "*.log"}

type Options struct {
	Root     string
	Ignore   []string // glob patterns matched against each path segment and the root-relative path
	Debounce time.Duration
}

// Change is one debounced burst of file system events
type Change struct {
	Paths []string
	At    time.Time
}

// Watcher watches a directory tree and reports debounced changes
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	ignore    []string
	debounce  time.Duration
	changes   chan Change
	logger    logging.Logger

	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func New(options Options, logger logging.Logger) (*Watcher, error) {
	root, err := filepath.Abs(options.Root)
	if err != nil {
		return nil, errors.NewValidationError("invalid watch root", err).WithContext("root", options.Root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.NewIOError("watch root is not accessible", err).WithContext("root", root)
	}
	if !info.IsDir() {
		return nil, errors.NewValidationError("watch root is not a directory", nil).WithContext("root", root)
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewInternalError("failed to create file system watcher", err)
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		root:      root,
		ignore:    append(append([]string{}, DefaultIgnore...), options.Ignore...),
		debounce:  debounce,
		changes:   make(chan Change, 1),
		logger:    logger,
		stop:      make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.loop()

	logger.Infof("Watching %s, debounce: %v, ignore: %v", root, debounce, w.ignore)
	return w, nil
}

// Changes delivers debounced changes. A change that arrives while the previous
// one is still unread is merged into it.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	if err != nil {
		return errors.NewInternalError("failed to close file system watcher", err)
	}
	return nil
}

// Ignored reports whether a path under the root is excluded from watching
func (w *Watcher) Ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)

	segments := strings.Split(rel, "/")
	for _, pattern := range w.ignore {
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		for _, segment := range segments {
			if matched, _ := filepath.Match(pattern, segment); matched {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can disappear between the event and the walk
			if path != dir && os.IsNotExist(err) {
				return nil
			}
			return errors.NewIOError("failed to walk watch directory", err).WithContext("path", path)
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.Ignored(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			return errors.NewIOError("failed to watch directory", err).WithContext("path", path)
		}
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	var pending []string
	seen := make(map[string]bool)

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warnf("Failed to watch new directory %s: %v", event.Name, err)
					}
				}
			}
			if !seen[event.Name] {
				seen[event.Name] = true
				pending = append(pending, event.Name)
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("File system watcher error: %v", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			w.emit(Change{Paths: pending, At: time.Now()})
			pending = nil
			seen = make(map[string]bool)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return !w.Ignored(event.Name)
}

func (w *Watcher) emit(change Change) {
	select {
	case w.changes <- change:
		return
	default:
	}

	// Merge with the unread change
	select {
	case previous := <-w.changes:
		change.Paths = append(previous.Paths, change.Paths...)
	default:
	}
	select {
	case w.changes <- change:
	default:
	}
}
