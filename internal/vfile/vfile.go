// Package vfile defines the in-memory descriptor of one filesystem entry
// travelling through the sync pipelines, together with the event that
// produced it.
package vfile

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Event is the filesystem event that produced a File.
type Event string

const (
	// EventInitial marks entries produced by a tree scan rather than a
	// watcher. It is handled exactly like EventAdd.
	EventInitial   Event = ""
	EventAdd       Event = "add"
	EventChange    Event = "change"
	EventUnlink    Event = "unlink"
	EventAddDir    Event = "addDir"
	EventUnlinkDir Event = "unlinkDir"
)

// String returns the log representation of the event.
func (e Event) String() string {
	if e == EventInitial {
		return "initial"
	}
	return string(e)
}

// IsRemoval reports whether the event deletes its path.
func (e Event) IsRemoval() bool {
	return e == EventUnlink || e == EventUnlinkDir
}

// IsWrite reports whether the event (re)creates file content.
func (e Event) IsWrite() bool {
	return e == EventInitial || e == EventAdd || e == EventChange
}

// File is the VirtualFile record.
type File struct {
	// Path is the absolute source path.
	Path string
	// Base is the directory RelativePath is computed from.
	Base string
	// RelativePath is slash separated and stable across the two synced trees.
	RelativePath string
	Event        Event
	// Contents is nil for directories, removals and unread files.
	Contents []byte
	Stat     fs.FileInfo
}

// New builds a File for path relative to base. Paths outside base are rejected.
func New(base, p string, event Event) (*File, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base %s: %w", base, err)
	}
	absPath := p
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(absBase, p)
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return nil, fmt.Errorf("relative path of %s: %w", p, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("%s is outside %s", p, base)
	}

	return &File{
		Path:         absPath,
		Base:         absBase,
		RelativePath: rel,
		Event:        event,
	}, nil
}

// Load builds a File and fills Stat and, for regular files, Contents.
// A missing path yields a File without Stat rather than an error.
func Load(base, p string, event Event) (*File, error) {
	f, err := New(base, p, event)
	if err != nil {
		return nil, err
	}
	if event.IsRemoval() {
		return f, nil
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	f.Stat = info
	if info.IsDir() {
		return f, nil
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	f.Contents = data
	return f, nil
}

// IsDir reports whether the file is a directory entry.
func (f *File) IsDir() bool {
	if f.Stat != nil {
		return f.Stat.IsDir()
	}
	return f.Event == EventAddDir || f.Event == EventUnlinkDir
}

// Package returns the first segment of RelativePath (the package slug).
func (f *File) Package() string {
	head, _, _ := strings.Cut(f.RelativePath, "/")
	if head == "." {
		return ""
	}
	return head
}

// InPackage returns RelativePath without its package segment.
func (f *File) InPackage() string {
	_, rest, _ := strings.Cut(f.RelativePath, "/")
	return rest
}

// Ext returns the lower-cased extension of the file name.
func (f *File) Ext() string {
	return strings.ToLower(path.Ext(f.RelativePath))
}

// Basename returns the last element of RelativePath.
func (f *File) Basename() string {
	return path.Base(f.RelativePath)
}

// Rename changes RelativePath (and Path accordingly), keeping Base.
func (f *File) Rename(rel string) {
	f.RelativePath = rel
	f.Path = filepath.Join(f.Base, filepath.FromSlash(rel))
}

// Clone returns a copy whose Contents can be mutated independently.
func (f *File) Clone() *File {
	c := *f
	if f.Contents != nil {
		c.Contents = append([]byte(nil), f.Contents...)
	}
	return &c
}

// String is used in log lines.
func (f *File) String() string {
	return fmt.Sprintf("%s %s", f.Event, f.RelativePath)
}
