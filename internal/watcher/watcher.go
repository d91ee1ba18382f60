// Package watcher turns filesystem notifications into VirtualFile events.
//
// FileWatcher watches directory trees recursively, coalesces bursts of
// notifications per path and reads file contents only when an event is
// emitted, so the pipeline always sees the latest content.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// FileFilter reports whether an absolute path should be watched.
type FileFilter func(path string) bool

// FileWatcher watches for file changes with debouncing.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	delay     time.Duration
	base      string
	logger    logging.Logger

	mutex   sync.RWMutex
	filters []FileFilter
	// dirs holds every watched directory so removals can be told apart.
	dirs map[string]bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewFileWatcher creates a watcher whose events are relative to base.
func NewFileWatcher(base string, debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve watch base %s: %w", base, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(),
		delay:     debounceDelay,
		base:      absBase,
		logger:    logger.WithComponent("watcher"),
		dirs:      make(map[string]bool),
		stop:      make(chan struct{}),
	}, nil
}

// Base returns the directory relative paths are computed from.
func (fw *FileWatcher) Base() string {
	return fw.base
}

// AddFilter adds a file filter. Every filter must accept a path.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

func (fw *FileWatcher) accept(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	for _, filter := range fw.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

// Add watches dir without descending into it. Subdirectories created
// later that pass the filters are watched recursively.
func (fw *FileWatcher) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := fw.watcher.Add(abs); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	fw.mutex.Lock()
	fw.dirs[abs] = true
	fw.mutex.Unlock()
	return nil
}

// AddRecursive adds a directory and all its subdirectories.
func (fw *FileWatcher) AddRecursive(root string) error {
	_, err := fw.addTree(root, false)
	return err
}

// addTree registers every directory under root and, when collect is set,
// returns the entries found below root.
func (fw *FileWatcher) addTree(root string, collect bool) ([]Pending, error) {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path: %w", err)
	}

	var found []Pending
	err = filepath.WalkDir(cleanRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !fw.accept(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if err := fw.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			fw.mutex.Lock()
			fw.dirs[path] = true
			fw.mutex.Unlock()
			if collect && path != cleanRoot {
				found = append(found, Pending{Path: path, Kind: vfile.EventAddDir})
			}
			return nil
		}
		if collect {
			found = append(found, Pending{Path: path, Kind: vfile.EventAdd})
		}
		return nil
	})
	return found, err
}

// Remove stops watching root and every directory below it.
func (fw *FileWatcher) Remove(root string) error {
	cleanRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	for _, dir := range fw.forgetDirs(cleanRoot) {
		if err := fw.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			fw.logger.Debug(context.Background(), "remove watch", "dir", dir, "error", err.Error())
		}
	}
	return nil
}

// forgetDirs drops root and its descendants from the known directories.
func (fw *FileWatcher) forgetDirs(root string) []string {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	var removed []string
	prefix := root + string(filepath.Separator)
	for dir := range fw.dirs {
		if dir == root || strings.HasPrefix(dir, prefix) {
			removed = append(removed, dir)
			delete(fw.dirs, dir)
		}
	}
	return removed
}

func (fw *FileWatcher) isDir(path string) bool {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	return fw.dirs[path]
}

// Start runs the watch loop and returns the event stream. The stream is
// closed when ctx is done or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) <-chan *vfile.File {
	out := make(chan *vfile.File)
	go fw.watchLoop(ctx, out)
	return out
}

// Stop stops event delivery and releases the OS watches.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stop)
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context, out chan<- *vfile.File) {
	defer close(out)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stop:
			return
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fw.handleFsnotifyEvent(ctx, ev) {
				timer.Reset(fw.delay)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		case <-timer.C:
			if !fw.flush(ctx, out) {
				return
			}
		}
	}
}

// handleFsnotifyEvent queues the events for one notification and reports
// whether anything was queued.
func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, ev fsnotify.Event) bool {
	path := filepath.Clean(ev.Name)
	if !fw.accept(path) {
		return false
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if !info.IsDir() {
			fw.debouncer.Add(path, vfile.EventAdd)
			return true
		}
		fw.debouncer.Add(path, vfile.EventAddDir)
		// Entries created before the directory watch was registered.
		found, err := fw.addTree(path, true)
		if err != nil {
			fw.logger.Warn(ctx, err, "watch new directory", "dir", path)
		}
		for _, e := range found {
			fw.debouncer.Add(e.Path, e.Kind)
		}
		return true

	case ev.Op.Has(fsnotify.Write):
		fw.debouncer.Add(path, vfile.EventChange)
		return true

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		kind := vfile.EventUnlink
		if fw.isDir(path) {
			fw.forgetDirs(path)
			kind = vfile.EventUnlinkDir
		} else if pending, ok := fw.debouncer.Kind(path); ok && pending == vfile.EventUnlinkDir {
			// Second notification of a removed directory, from its own watch.
			kind = vfile.EventUnlinkDir
		}
		fw.debouncer.Add(path, kind)
		return true

	default:
		return false
	}
}

// flush emits the coalesced events. It returns false when delivery stopped.
func (fw *FileWatcher) flush(ctx context.Context, out chan<- *vfile.File) bool {
	for _, e := range fw.debouncer.Drain() {
		f, err := vfile.Load(fw.base, e.Path, e.Kind)
		if err != nil {
			fw.logger.Warn(ctx, err, "read changed file", "file", e.Path, "event", e.Kind.String())
			continue
		}
		// Written then removed inside one debounce window.
		if e.Kind.IsWrite() && f.Stat == nil {
			continue
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return false
		case <-fw.stop:
			return false
		}
	}
	return true
}

// Pending is a queued event.
type Pending struct {
	Path string
	Kind vfile.Event
}

// Debouncer coalesces events per path, keeping the last event of each path
// in the order of that last occurrence.
type Debouncer struct {
	mutex   sync.Mutex
	pending []Pending
	index   map[string]int
}

// NewDebouncer creates an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{index: make(map[string]int)}
}

// Add records kind for path, replacing an earlier event of the same path.
func (d *Debouncer) Add(path string, kind vfile.Event) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if i, ok := d.index[path]; ok {
		d.pending = append(d.pending[:i], d.pending[i+1:]...)
		for j := i; j < len(d.pending); j++ {
			d.index[d.pending[j].Path] = j
		}
	}
	d.index[path] = len(d.pending)
	d.pending = append(d.pending, Pending{Path: path, Kind: kind})
}

// Kind returns the pending event of path.
func (d *Debouncer) Kind(path string) (vfile.Event, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	i, ok := d.index[path]
	if !ok {
		return "", false
	}
	return d.pending[i].Kind, true
}

// Drain returns the pending events and resets the Debouncer.
func (d *Debouncer) Drain() []Pending {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	events := d.pending
	d.pending = nil
	d.index = make(map[string]int)
	return events
}

// NoGitFilter rejects paths inside .git directories.
func NoGitFilter(path string) bool {
	p := filepath.ToSlash(path)
	return !strings.HasPrefix(p, ".git/") && !strings.Contains(p, "/.git/") && !strings.HasSuffix(p, "/.git")
}

// ExtensionFilter accepts directories and files with one of exts.
func ExtensionFilter(exts ...string) FileFilter {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}
	return func(path string) bool {
		ext := strings.ToLower(filepath.Ext(path))
		if ext == "" {
			return true
		}
		return allowed[ext]
	}
}
