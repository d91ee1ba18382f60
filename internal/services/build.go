package services

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/wpbuilder/internal/build"
	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// BuildService builds the release artifacts of every package.
type BuildService struct {
	app *App
	out afero.Fs
}

// NewBuildService creates a BuildService writing below the configured
// build directory.
func NewBuildService(app *App) *BuildService {
	return &BuildService{app: app, out: app.Project}
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	Artifacts []*build.Artifact
	Errors    []error
	Duration  time.Duration
	Success   bool
}

// BuildAll builds plugins and snippets concurrently, then waits for the
// background work to drain and releases the shared resources.
func (s *BuildService) BuildAll(ctx context.Context) (*BuildResult, error) {
	start := time.Now()
	cfg := s.app.Config
	dir := resolve(s.app.Root, cfg.Build.Dir)
	logger := s.app.Logger.WithComponent("build")
	op := logging.StartOperation(logger, "build")

	plugins := build.NewPluginBuilder(s.app.Plugins, s.app.PluginFilter, s.out, dir, s.app.Notifier, s.app.Logger)
	snippets := build.NewSnippetBuilder(s.app.Snippets, s.out, dir, s.app.Notifier, s.app.Logger)

	collector := errors.NewErrorCollector()
	var pluginArtifacts, snippetArtifacts []*build.Artifact

	var g errgroup.Group
	g.Go(func() error {
		s.track(func() {
			pluginArtifacts = build.All(ctx, s.app.Plugins, plugins, cfg.Build.Concurrency, collector, logger)
		})
		return nil
	})
	g.Go(func() error {
		s.track(func() {
			snippetArtifacts = build.All(ctx, s.app.Snippets, snippets, cfg.Build.Concurrency, collector, logger)
		})
		return nil
	})
	_ = g.Wait()

	if err := s.app.Idle.Start(ctx, cfg.Watch.IdleInterval); err != nil {
		collector.Add(err)
	}

	result := &BuildResult{
		Artifacts: append(pluginArtifacts, snippetArtifacts...),
		Errors:    collector.Errors(),
		Duration:  time.Since(start),
	}
	result.Success = len(result.Errors) == 0
	for _, a := range result.Artifacts {
		rel, err := filepath.Rel(s.app.Root, a.Path)
		if err != nil {
			rel = a.Path
		}
		logger.Info(ctx, "artifact", "kind", string(a.Kind), "package", a.Slug, "version", a.Version, "path", rel)
	}
	err := collector.Err()
	if err != nil {
		op.EndWithError(ctx, err)
	} else {
		op.End(ctx)
	}
	return result, err
}

// track counts fn as pending work of the idle detector.
func (s *BuildService) track(fn func()) {
	s.app.Idle.Add(1)
	defer s.app.Idle.Done()
	fn()
}
