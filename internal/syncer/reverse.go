package syncer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/vfile"
	"github.com/conneroisu/wpbuilder/internal/watcher"
)

// ReverseSync copies files compiled on the server (translations) back into
// the project tree. It only ever watches <slug>/<dir> of live packages and
// only lets the allowed extensions through, so nothing it writes is picked
// up again by the forward flow.
type ReverseSync struct {
	root    string
	dir     string
	project *Mirror
	watcher *watcher.FileWatcher
	logger  logging.Logger

	mu      sync.Mutex
	watched map[string]bool
}

// NewReverseSync watches packages under the server root and writes into
// project.
func NewReverseSync(root, dir string, exts []string, debounce time.Duration, project *Mirror, logger logging.Logger) (*ReverseSync, error) {
	fw, err := watcher.NewFileWatcher(root, debounce, logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.ExtensionFilter(exts...))
	fw.AddFilter(artifactDirFilter(fw.Base(), dir))

	return &ReverseSync{
		root:    fw.Base(),
		dir:     dir,
		project: project,
		watcher: fw,
		logger:  logger.WithComponent("reverse-sync"),
		watched: make(map[string]bool),
	}, nil
}

// WatchPackage starts watching the artifact directory of slug. When the
// server has no such directory yet, the package directory itself is
// watched until the artifact directory appears in it.
func (r *ReverseSync) WatchPackage(ctx context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watched[slug] {
		return nil
	}

	pkg := filepath.Join(r.root, slug)
	dir := filepath.Join(pkg, r.dir)
	if !isDir(dir) {
		if err := r.watcher.Add(pkg); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.logger.Debug(ctx, "package not on the server yet", "package", slug)
				return nil
			}
			return err
		}
		r.watched[slug] = true
		// The directory may appear before the package watch is registered.
		if !isDir(dir) {
			r.logger.Debug(ctx, "waiting for compiled artifacts directory", "package", slug)
			return nil
		}
	}
	if err := r.watcher.AddRecursive(dir); err != nil {
		return err
	}
	r.watched[slug] = true
	r.logger.Debug(ctx, "watching compiled artifacts", "package", slug)
	return nil
}

// UnwatchPackage stops watching slug.
func (r *ReverseSync) UnwatchPackage(ctx context.Context, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.watched[slug] {
		return nil
	}
	delete(r.watched, slug)
	r.logger.Debug(ctx, "unwatching compiled artifacts", "package", slug)
	return r.watcher.Remove(filepath.Join(r.root, slug))
}

// Run copies changed artifacts into the project until ctx is done.
// Deletions on the server are not propagated.
func (r *ReverseSync) Run(ctx context.Context) error {
	defer r.watcher.Stop()

	for f := range r.watcher.Start(ctx) {
		r.apply(ctx, f)
	}
	return ctx.Err()
}

func (r *ReverseSync) apply(ctx context.Context, f *vfile.File) {
	if f.IsDir() || !f.Event.IsWrite() || f.Contents == nil {
		return
	}
	written, err := r.project.Write(ctx, f.RelativePath, f.Contents, defaultFileMode)
	if err != nil {
		r.logger.Warn(ctx, err, "copy compiled artifact", "package", f.Package(), "file", f.RelativePath, "event", f.Event.String())
		return
	}
	if written {
		r.logger.Info(ctx, "online file copied", "file", f.RelativePath, "event", f.Event.String())
	}
}

// Close stops watching.
func (r *ReverseSync) Close() error {
	return r.watcher.Stop()
}

// artifactDirFilter accepts <slug>/<dir> and everything below it.
func artifactDirFilter(root, dir string) watcher.FileFilter {
	return func(path string) bool {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		return len(parts) >= 2 && parts[1] == dir
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
