// Package syncer mirrors package trees onto a destination tree: writing
// and deleting entries as source events arrive, replacing entries whose
// type changed, removing stale destination files and bringing server
// compiled localisation files back into the project.
package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

const (
	defaultFileMode fs.FileMode = 0o644
	defaultDirMode  fs.FileMode = 0o755
)

// Mirror applies VirtualFile events to a destination filesystem. Paths
// given to it are slash separated and relative to the destination root.
type Mirror struct {
	dest   afero.Fs
	logger logging.Logger
}

// NewMirror creates a Mirror writing into dest.
func NewMirror(dest afero.Fs, logger logging.Logger) *Mirror {
	return &Mirror{dest: dest, logger: logger.WithComponent("mirror")}
}

// NewOsMirror creates a Mirror rooted at an OS directory.
func NewOsMirror(root string, logger logging.Logger) *Mirror {
	return NewMirror(afero.NewBasePathFs(afero.NewOsFs(), root), logger)
}

// Fs returns the destination filesystem.
func (m *Mirror) Fs() afero.Fs {
	return m.dest
}

func clean(rel string) string {
	return filepath.FromSlash(path.Clean("/" + rel))
}

// Apply mirrors one event: removals delete the destination entry, writes
// create or replace it.
func (m *Mirror) Apply(ctx context.Context, f *vfile.File) error {
	switch {
	case f.Event.IsRemoval():
		m.Delete(ctx, f.RelativePath)
		return nil
	case f.IsDir():
		return m.Mkdir(ctx, f.RelativePath)
	case f.Event.IsWrite() || f.Event == vfile.EventInitial:
		if f.Contents == nil && f.Stat == nil {
			return nil
		}
		mode := defaultFileMode
		if f.Stat != nil {
			mode = f.Stat.Mode().Perm()
		}
		_, err := m.Write(ctx, f.RelativePath, f.Contents, mode)
		return err
	default:
		return nil
	}
}

// Delete removes rel recursively. A missing entry is not an error; other
// failures are logged only.
func (m *Mirror) Delete(ctx context.Context, rel string) {
	target := clean(rel)
	if err := m.dest.RemoveAll(target); err != nil && !os.IsNotExist(err) {
		m.logger.Warn(ctx, err, "unable to delete destination", "file", rel)
		return
	}
	m.logger.Debug(ctx, "deleted", "file", rel)
}

// Mkdir creates rel as a directory, replacing a file in the way.
func (m *Mirror) Mkdir(ctx context.Context, rel string) error {
	target := clean(rel)
	if err := m.prepareParents(ctx, target); err != nil {
		return err
	}
	if info, err := m.dest.Stat(target); err == nil && !info.IsDir() {
		m.logger.Debug(ctx, "replacing file with directory", "file", rel)
		if err := m.dest.Remove(target); err != nil {
			return errors.NewIOError("TYPE_SWAP", "remove file in place of directory", err).WithFile(rel, "")
		}
	}
	if err := m.dest.MkdirAll(target, defaultDirMode); err != nil {
		return errors.NewIOError("MKDIR", "create destination directory", err).WithFile(rel, "")
	}
	return nil
}

// Write stores data at rel. It reports false when the destination already
// held identical bytes and nothing was written.
func (m *Mirror) Write(ctx context.Context, rel string, data []byte, mode fs.FileMode) (bool, error) {
	target := clean(rel)
	if err := m.prepareParents(ctx, target); err != nil {
		return false, err
	}

	if info, err := m.dest.Stat(target); err == nil {
		if info.IsDir() {
			m.logger.Debug(ctx, "replacing directory with file", "file", rel)
			if err := m.dest.RemoveAll(target); err != nil {
				return false, errors.NewIOError("TYPE_SWAP", "remove directory in place of file", err).WithFile(rel, "")
			}
		} else if info.Size() == int64(len(data)) {
			if existing, err := afero.ReadFile(m.dest, target); err == nil && xxhash.Sum64(existing) == xxhash.Sum64(data) {
				return false, nil
			}
		}
	}

	if mode == 0 {
		mode = defaultFileMode
	}
	if err := afero.WriteFile(m.dest, target, data, mode); err != nil {
		return false, errors.NewIOError("WRITE", "write destination file", err).WithFile(rel, "")
	}
	m.logger.Debug(ctx, "written", "file", rel, "bytes", len(data))
	return true, nil
}

// prepareParents creates the parent directories of target, removing any
// file standing where a directory is needed.
func (m *Mirror) prepareParents(ctx context.Context, target string) error {
	dir := filepath.Dir(target)
	if dir == string(filepath.Separator) || dir == "." {
		return nil
	}

	parts := strings.Split(strings.TrimPrefix(dir, string(filepath.Separator)), string(filepath.Separator))
	current := string(filepath.Separator)
	for _, part := range parts {
		current = filepath.Join(current, part)
		info, err := m.dest.Stat(current)
		if err != nil {
			break
		}
		if !info.IsDir() {
			m.logger.Debug(ctx, "replacing file with directory", "file", filepath.ToSlash(current))
			if err := m.dest.Remove(current); err != nil {
				return errors.NewIOError("TYPE_SWAP", "remove file in place of directory", err).WithFile(filepath.ToSlash(current), "")
			}
			break
		}
	}

	if err := m.dest.MkdirAll(dir, defaultDirMode); err != nil {
		return errors.NewIOError("MKDIR", fmt.Sprintf("create %s", dir), err)
	}
	return nil
}

// Exists reports whether rel exists on the destination.
func (m *Mirror) Exists(rel string) bool {
	_, err := m.dest.Stat(clean(rel))
	return err == nil
}
