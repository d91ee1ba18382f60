// Package debuglog binds the WordPress debug.log of the server to the
// project: a non empty server log is mirrored into the project root, and
// the server log is cleared whenever a project source file changes.
package debuglog

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/pipeline"
	"github.com/conneroisu/wpbuilder/internal/syncer"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// FileName is the log written by WordPress when WP_DEBUG_LOG is on.
const FileName = "debug.log"

// Binder keeps the project copy of the server debug.log current.
type Binder struct {
	server   afero.Fs
	dir      string
	path     string
	project  *syncer.Mirror
	debounce time.Duration
	logger   logging.Logger

	watcher *fsnotify.Watcher
}

// New binds <contentDir>/debug.log to debug.log in the project mirror.
func New(contentDir string, project *syncer.Mirror, debounce time.Duration, logger logging.Logger) (*Binder, error) {
	dir, err := filepath.Abs(contentDir)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewEnvironmentError("DEBUG_LOG_WATCH", "create debug.log watcher", err)
	}
	return &Binder{
		server:   afero.NewOsFs(),
		dir:      dir,
		path:     filepath.Join(dir, FileName),
		project:  project,
		debounce: debounce,
		logger:   logger.WithComponent("debug-log"),
		watcher:  w,
	}, nil
}

// Path returns the server log path.
func (b *Binder) Path() string { return b.path }

// Sync copies a non empty server log into the project and logs its first
// line. It reports whether a copy was written.
func (b *Binder) Sync(ctx context.Context) (bool, error) {
	data, err := afero.ReadFile(b.server, b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewIOError("DEBUG_LOG_READ", "read server debug.log", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}

	written, err := b.project.Write(ctx, FileName, data, 0o644)
	if err != nil {
		return false, err
	}
	if written {
		b.logger.Warn(ctx, nil, "server debug.log has entries", "first_line", firstLine(data))
	}
	return written, nil
}

// Truncate empties the server log. A missing log is left alone.
func (b *Binder) Truncate(ctx context.Context) error {
	if _, err := b.server.Stat(b.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("DEBUG_LOG_STAT", "stat server debug.log", err)
	}
	f, err := b.server.OpenFile(b.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.NewIOError("DEBUG_LOG_TRUNCATE", "truncate server debug.log", err)
	}
	b.logger.Debug(ctx, "cleared server debug.log")
	return f.Close()
}

// Stage truncates the server log for every write event passing through.
func (b *Binder) Stage() pipeline.Stage {
	return pipeline.DoAction(func(ctx context.Context, f *vfile.File) error {
		if !f.Event.IsWrite() || f.Event == vfile.EventInitial || f.IsDir() {
			return nil
		}
		if err := b.Truncate(ctx); err != nil {
			b.logger.Warn(ctx, err, "unable to clear server debug.log", "file", f.RelativePath)
		}
		return nil
	})
}

// Run syncs once, then again after every change of the server log, until
// ctx is done or the Binder is closed.
func (b *Binder) Run(ctx context.Context) error {
	if err := b.watcher.Add(b.dir); err != nil {
		return errors.NewEnvironmentError("DEBUG_LOG_WATCH", "watch "+b.dir, err)
	}
	if _, err := b.Sync(ctx); err != nil {
		b.logger.Warn(ctx, err, "unable to mirror server debug.log")
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != b.path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(b.debounce)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn(ctx, err, "debug.log watcher error")
		case <-timer.C:
			if _, err := b.Sync(ctx); err != nil {
				b.logger.Warn(ctx, err, "unable to mirror server debug.log")
			}
		}
	}
}

// Close stops watching.
func (b *Binder) Close() error {
	return b.watcher.Close()
}

func firstLine(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}
