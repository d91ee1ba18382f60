package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// SkipFunc reports whether a scanned entry, given by its slash separated
// path relative to the scan base, is left out. Skipped directories are
// not descended into.
type SkipFunc func(rel string, d fs.DirEntry) bool

// Scan walks root and returns an initial snapshot of every entry below it,
// relative to base, in lexical walk order (a directory precedes its
// content). Regular files carry their contents.
func Scan(ctx context.Context, base, root string, skip SkipFunc) ([]*vfile.File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []*vfile.File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == absRoot {
				return filepath.SkipDir
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		f, err := vfile.New(base, path, vfile.EventInitial)
		if err != nil {
			return err
		}
		if f.RelativePath == "." {
			return nil
		}
		if skip != nil && skip(f.RelativePath, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		loaded, err := vfile.Load(base, path, vfile.EventInitial)
		if err != nil {
			return err
		}
		files = append(files, loaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
