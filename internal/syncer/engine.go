package syncer

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/ignore"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/pipeline"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// PackageHooks is notified when package level directories come and go.
type PackageHooks interface {
	WatchPackage(ctx context.Context, slug string) error
	UnwatchPackage(ctx context.Context, slug string) error
}

// Engine routes source events through the ignore filter and transforms
// and mirrors the result onto the destination tree.
type Engine struct {
	source afero.Fs
	mirror *Mirror
	filter *ignore.Filter
	logger logging.Logger

	transform pipeline.Stage
	rename    func(rel string) string
	after     pipeline.Stage
	hooks     PackageHooks
	hookDir   string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTransform sets the stage applied to files routed as transformed.
func WithTransform(stage pipeline.Stage) EngineOption {
	return func(e *Engine) { e.transform = stage }
}

// WithDestinationName maps a source relative path to the name the
// transform writes it under, so deletions remove the right entry.
func WithDestinationName(rename func(rel string) string) EngineOption {
	return func(e *Engine) { e.rename = rename }
}

// WithAfter runs stage on a copy of every file written or deleted.
func WithAfter(stage pipeline.Stage) EngineOption {
	return func(e *Engine) { e.after = stage }
}

// WithPackageHooks reports package directories, and their dir
// subdirectory, being created or removed.
func WithPackageHooks(hooks PackageHooks, dir string) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
		e.hookDir = dir
	}
}

// NewEngine creates an Engine reading package trees from source (rooted at
// the package directory) and writing through mirror.
func NewEngine(source afero.Fs, mirror *Mirror, filter *ignore.Filter, logger logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		source:    source,
		mirror:    mirror,
		filter:    filter,
		logger:    logger.WithComponent("sync"),
		transform: pipeline.Pass,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stage returns the per-event sync stage.
func (e *Engine) Stage() pipeline.Stage {
	write := pipeline.DoAction(e.mirror.Apply)
	routes := map[ignore.Route]pipeline.Stage{
		ignore.RouteVerbatim:    write,
		ignore.RouteTransformed: pipeline.Chain(e.transform, write),
		ignore.RouteDelete:      pipeline.Chain(pipeline.Map(e.destination), write),
	}

	stages := []pipeline.Stage{
		pipeline.DoAction(e.observe),
		pipeline.Switch(e.route, routes),
		pipeline.DoAction(e.notify),
	}
	if e.after != nil {
		stages = append(stages, pipeline.Tee(e.after))
	}
	return pipeline.Chain(stages...)
}

func (e *Engine) route(ctx context.Context, f *vfile.File) ignore.Route {
	r := e.filter.Route(ctx, f)
	e.logger.Debug(ctx, "route", "file", f.RelativePath, "event", f.Event.String(), "route", r.String())
	return r
}

// observe drops cached manifest state when a manifest changes.
func (e *Engine) observe(_ context.Context, f *vfile.File) error {
	if f.InPackage() == ignore.ManifestFile {
		e.filter.Invalidate(f.Package())
	}
	return nil
}

func (e *Engine) destination(_ context.Context, f *vfile.File) (*vfile.File, error) {
	if e.rename == nil || f.IsDir() {
		return f, nil
	}
	if renamed := e.rename(f.RelativePath); renamed != f.RelativePath {
		f = f.Clone()
		f.Rename(renamed)
	}
	return f, nil
}

// notify calls the package hooks once the destination side exists.
func (e *Engine) notify(ctx context.Context, f *vfile.File) error {
	if e.hooks == nil || !f.IsDir() {
		return nil
	}
	slug := f.Package()
	inner := f.InPackage()
	if inner != "" && inner != e.hookDir {
		return nil
	}

	switch f.Event {
	case vfile.EventAddDir, vfile.EventInitial:
		return e.hooks.WatchPackage(ctx, slug)
	case vfile.EventUnlinkDir:
		if inner == "" {
			return e.hooks.UnwatchPackage(ctx, slug)
		}
	}
	return nil
}

// CleanStale removes destination entries of pkg that no longer exist in
// the source tree. Reverse flow artifacts are left alone.
func (e *Engine) CleanStale(ctx context.Context, pkg string) error {
	if !e.mirror.Exists(pkg) {
		return nil
	}

	var stale []string
	err := afero.Walk(e.mirror.Fs(), clean(pkg), func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if rel == pkg || e.filter.IsReverseDir(rel) || e.filter.IsReverseArtifact(rel) {
			return nil
		}
		if _, err := e.source.Stat(clean(rel)); err == nil {
			return nil
		}
		stale = append(stale, rel)
		if info.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, rel := range stale {
		e.mirror.Delete(ctx, rel)
	}
	if len(stale) > 0 {
		e.logger.Info(ctx, "removed stale destination entries", "package", pkg, "count", len(stale))
	}
	return nil
}

// CopyArtifacts pushes the source reverse flow artifacts with one of exts
// of pkg to the destination once.
func (e *Engine) CopyArtifacts(ctx context.Context, pkg, dir string, exts []string) error {
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	root := clean(path.Join(pkg, dir))
	return afero.Walk(e.source, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !allowed[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		data, err := afero.ReadFile(e.source, p)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		written, err := e.mirror.Write(ctx, rel, data, info.Mode().Perm())
		if err != nil {
			return err
		}
		if written {
			e.logger.Debug(ctx, "copied artifact", "file", rel)
		}
		return nil
	})
}
