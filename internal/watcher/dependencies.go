package watcher

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/wpbuilder/internal/logging"
)

// DirtyFunc is called with a parent file whose dependency changed.
type DirtyFunc func(ctx context.Context, parent string)

type trackRequest struct {
	dependency string
	parent     string
}

// DependencyWatcher keeps one-shot watches on included files. When a
// dependency changes, every parent that included it is marked dirty once
// and the watch entry is dropped; the next rebuild of the parent tracks it
// again.
//
// All state is owned by the Run goroutine; Track only sends a message.
type DependencyWatcher struct {
	watcher  *fsnotify.Watcher
	onDirty  DirtyFunc
	logger   logging.Logger
	requests chan trackRequest

	// owned by Run
	parents map[string]map[string]bool
	dirRefs map[string]int

	stop     chan struct{}
	stopOnce sync.Once
	// closed when Run returns
	done     chan struct{}
	doneOnce sync.Once
}

// NewDependencyWatcher creates a watcher calling onDirty for stale parents.
func NewDependencyWatcher(onDirty DirtyFunc, logger logging.Logger) (*DependencyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DependencyWatcher{
		watcher:  w,
		onDirty:  onDirty,
		logger:   logger.WithComponent("dependencies"),
		requests: make(chan trackRequest, 64),
		parents:  make(map[string]map[string]bool),
		dirRefs:  make(map[string]int),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Track asks for parent to be rebuilt the next time dependency changes.
// Requests made after Run returned are dropped.
func (w *DependencyWatcher) Track(ctx context.Context, dependency, parent string) {
	req := trackRequest{dependency: filepath.Clean(dependency), parent: filepath.Clean(parent)}
	select {
	case w.requests <- req:
	case <-ctx.Done():
	case <-w.stop:
	case <-w.done:
	}
}

// Run processes track requests and change notifications until ctx is done
// or Close is called.
func (w *DependencyWatcher) Run(ctx context.Context) error {
	defer w.doneOnce.Do(func() { close(w.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.requests:
			w.track(ctx, req)
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				w.fire(ctx, filepath.Clean(ev.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, err, "dependency watcher error")
		}
	}
}

func (w *DependencyWatcher) track(ctx context.Context, req trackRequest) {
	set, ok := w.parents[req.dependency]
	if !ok {
		// Watch the directory: editors often replace files instead of
		// writing them in place.
		dir := filepath.Dir(req.dependency)
		if w.dirRefs[dir] == 0 {
			if err := w.watcher.Add(dir); err != nil {
				w.logger.Warn(ctx, err, "watch dependency", "dependency", req.dependency)
				return
			}
		}
		w.dirRefs[dir]++
		set = make(map[string]bool)
		w.parents[req.dependency] = set
	}
	set[req.parent] = true
}

func (w *DependencyWatcher) fire(ctx context.Context, dependency string) {
	set, ok := w.parents[dependency]
	if !ok {
		return
	}
	delete(w.parents, dependency)

	dir := filepath.Dir(dependency)
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		_ = w.watcher.Remove(dir)
	}

	for parent := range set {
		w.logger.Debug(ctx, "dependency changed, rebuilding parent", "dependency", dependency, "parent", parent)
		w.onDirty(ctx, parent)
	}
}

// Close stops Run and releases the OS watches.
func (w *DependencyWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}
