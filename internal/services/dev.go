package services

import (
	"context"
	stderrors "errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/wpbuilder/internal/config"
	"github.com/conneroisu/wpbuilder/internal/debuglog"
	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/pipeline"
	"github.com/conneroisu/wpbuilder/internal/syncer"
	"github.com/conneroisu/wpbuilder/internal/vfile"
	"github.com/conneroisu/wpbuilder/internal/watcher"
)

// DevService keeps the server installation in sync with the project tree
// until its context ends.
type DevService struct {
	config *config.Config
	logger logging.Logger
	opts   []AppOption

	app *App
	// main files whose included files changed, fanned into each runner
	pluginRebuilds  chan *vfile.File
	snippetRebuilds chan *vfile.File
}

// NewDevService creates a dev service. opts are passed on to NewApp.
func NewDevService(cfg *config.Config, logger logging.Logger, opts ...AppOption) *DevService {
	return &DevService{
		config:          cfg,
		logger:          logger,
		opts:            opts,
		pluginRebuilds:  make(chan *vfile.File),
		snippetRebuilds: make(chan *vfile.File),
	}
}

// Run syncs plugins to the server, hot updates snippets in the database
// and mirrors the server debug log until ctx is done. Cancellation is not
// an error.
func (s *DevService) Run(ctx context.Context) error {
	if err := s.config.RequireServer(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deps, err := watcher.NewDependencyWatcher(s.dirty, s.logger)
	if err != nil {
		return errors.NewEnvironmentError("DEPENDENCY_WATCH", "create dependency watcher", err)
	}
	defer deps.Close()

	app, err := NewApp(s.config, s.logger, append(s.opts, WithDependencyTracker(deps))...)
	if err != nil {
		return err
	}
	s.app = app
	release := app.Idle.Hold()

	debug, err := debuglog.New(s.config.ContentPath(), syncer.NewOsMirror(app.Root, s.logger), s.config.Watch.Debounce, s.logger)
	if err != nil {
		release()
		return errors.NewEnvironmentError("DEBUG_LOG", "bind server debug.log", err)
	}
	defer debug.Close()

	pluginTasks, err := s.startPlugins(ctx, debug)
	if err != nil {
		release()
		return err
	}
	snippetTasks, err := s.startSnippets(ctx, debug)
	if err != nil {
		release()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Run(gctx) })
	g.Go(func() error {
		if err := debug.Run(gctx); err != nil {
			s.logger.Warn(gctx, err, "server debug.log is not mirrored")
		}
		return nil
	})
	for _, task := range append(pluginTasks, snippetTasks...) {
		task := task
		g.Go(func() error { return task(gctx) })
	}
	s.logger.Info(ctx, "watching for changes", "plugins", app.Plugins.Root(), "snippets", app.Snippets.Root(), "server", s.config.ServerPlugins())

	err = g.Wait()
	release()
	// Teardowns still run on the way out.
	if idleErr := app.Idle.Start(context.WithoutCancel(ctx), s.config.Watch.IdleInterval); idleErr != nil {
		s.logger.Warn(ctx, idleErr, "teardown")
	}
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startPlugins performs the initial plugin sync and returns the tasks that
// keep it running.
func (s *DevService) startPlugins(ctx context.Context, debug *debuglog.Binder) ([]func(context.Context) error, error) {
	app := s.app
	root := app.Plugins.Root()

	server := syncer.NewOsMirror(s.config.ServerPlugins(), s.logger)
	project := syncer.NewOsMirror(root, s.logger)
	reverse, err := syncer.NewReverseSync(s.config.ServerPlugins(), s.config.Sync.LanguagesDir, s.config.Sync.ReverseExtensions,
		s.config.Watch.Debounce, project, s.logger)
	if err != nil {
		return nil, errors.NewEnvironmentError("REVERSE_WATCH", "watch server artifacts", err)
	}

	engine := syncer.NewEngine(afero.NewBasePathFs(afero.NewOsFs(), root), server, app.PluginFilter, s.logger,
		syncer.WithTransform(app.Plugins.Transform()),
		syncer.WithDestinationName(packages.DestinationName),
		syncer.WithAfter(debug.Stage()),
		syncer.WithPackageHooks(reverse, s.config.Sync.LanguagesDir),
	)
	plugins := pipeline.NewRunner(engine.Stage(), pipeline.NewKeyedQueue(app.Idle), app.reportError(nil))

	fw, err := watcher.NewFileWatcher(root, s.config.Watch.Debounce, s.logger)
	if err != nil {
		reverse.Close()
		return nil, errors.NewEnvironmentError("PLUGIN_WATCH", "watch plugins", err)
	}
	fw.AddFilter(watcher.NoGitFilter)
	if err := fw.AddRecursive(root); err != nil {
		reverse.Close()
		fw.Stop()
		return nil, errors.NewEnvironmentError("PLUGIN_WATCH", "watch "+root, err)
	}
	events := fw.Start(ctx)

	files, err := watcher.Scan(ctx, root, root, func(rel string, d fs.DirEntry) bool {
		info, _ := d.Info()
		return app.PluginFilter.ShouldIgnore(ctx, rel, info)
	})
	if err != nil {
		reverse.Close()
		fw.Stop()
		return nil, errors.NewIOError("PLUGIN_SCAN", "scan "+root, err)
	}
	list, err := app.Plugins.List(ctx)
	if err != nil {
		reverse.Close()
		fw.Stop()
		return nil, err
	}

	byPackage := make(map[string][]*vfile.File)
	for _, f := range files {
		byPackage[f.Package()] = append(byPackage[f.Package()], f)
	}
	for _, p := range list {
		slug := p.Slug
		if err := plugins.Do(ctx, slug, func(ctx context.Context) error { return engine.CleanStale(ctx, slug) }); err != nil {
			return nil, err
		}
		for _, f := range byPackage[slug] {
			if err := plugins.Submit(ctx, f); err != nil {
				return nil, err
			}
		}
		if err := plugins.Do(ctx, slug, func(ctx context.Context) error {
			return engine.CopyArtifacts(ctx, slug, s.config.Sync.LanguagesDir, s.config.Sync.ReverseExtensions)
		}); err != nil {
			return nil, err
		}
	}
	s.logger.Info(ctx, "initial plugin sync queued", "packages", len(list), "files", len(files))

	return []func(context.Context) error{
		func(ctx context.Context) error {
			defer fw.Stop()
			return plugins.Run(ctx, pipeline.Merge(ctx, events, s.pluginRebuilds))
		},
		reverse.Run,
	}, nil
}

// startSnippets pushes every snippet once and returns the task hot
// updating them on change.
func (s *DevService) startSnippets(ctx context.Context, debug *debuglog.Binder) ([]func(context.Context) error, error) {
	app := s.app
	root := app.Snippets.Root()

	stage := pipeline.Chain(
		pipeline.Filter(func(_ context.Context, f *vfile.File) bool {
			return f.Event.IsWrite() && !f.IsDir() && isDirectChild(f)
		}),
		pipeline.Parallel(
			debug.Stage(),
			pipeline.DoAction(func(ctx context.Context, f *vfile.File) error {
				return app.Gateway.HotUpdate(ctx, f.Package())
			}),
		),
	)
	snippets := pipeline.NewRunner(stage, pipeline.NewKeyedQueue(app.Idle), app.reportError(nil))

	fw, err := watcher.NewFileWatcher(root, s.config.Watch.Debounce, s.logger)
	if err != nil {
		return nil, errors.NewEnvironmentError("SNIPPET_WATCH", "watch snippets", err)
	}
	fw.AddFilter(watcher.NoGitFilter)
	if err := fw.AddRecursive(root); err != nil {
		fw.Stop()
		return nil, errors.NewEnvironmentError("SNIPPET_WATCH", "watch "+root, err)
	}
	events := fw.Start(ctx)

	list, err := app.Snippets.List(ctx)
	if err != nil {
		fw.Stop()
		return nil, err
	}
	for _, p := range list {
		slug := p.Slug
		if err := snippets.Do(ctx, slug, func(ctx context.Context) error { return app.Gateway.HotUpdate(ctx, slug) }); err != nil {
			return nil, err
		}
	}

	return []func(context.Context) error{
		func(ctx context.Context) error {
			defer fw.Stop()
			return snippets.Run(ctx, pipeline.Merge(ctx, events, s.snippetRebuilds))
		},
	}, nil
}

// dirty feeds the main file whose included file changed back into the
// runner of its tree.
func (s *DevService) dirty(ctx context.Context, parent string) {
	for _, target := range []struct {
		root     string
		rebuilds chan<- *vfile.File
	}{
		{s.app.Plugins.Root(), s.pluginRebuilds},
		{s.app.Snippets.Root(), s.snippetRebuilds},
	} {
		if !within(target.root, parent) {
			continue
		}
		f, err := vfile.Load(target.root, parent, vfile.EventChange)
		if err != nil {
			s.logger.Warn(ctx, err, "reload main file", "file", parent)
			return
		}
		s.logger.Debug(ctx, "included file changed", "file", f.RelativePath)
		select {
		case target.rebuilds <- f:
		case <-ctx.Done():
		}
		return
	}
}

// isDirectChild reports whether f sits directly inside its package
// directory.
func isDirectChild(f *vfile.File) bool {
	inner := f.InPackage()
	return inner != "" && !strings.Contains(inner, "/")
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
