// Package services sequences the build, sync and publish components into
// the tasks exposed by the command line: one-shot build, long running dev
// sync, project init and the since-unreleased rewrite.
package services

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/config"
	"github.com/conneroisu/wpbuilder/internal/database"
	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/idle"
	"github.com/conneroisu/wpbuilder/internal/ignore"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/publish"
	"github.com/conneroisu/wpbuilder/internal/transform"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// App holds the components of one project, built once from its
// configuration.
type App struct {
	Config *config.Config
	Logger logging.Logger
	Idle   *idle.Detector

	// Project is the filesystem the project tree is read from.
	Project  afero.Fs
	Root     string
	Plugins  *packages.Repository
	Snippets *packages.Repository
	// PluginFilter applies the ignore rules to paths below the plugins root.
	PluginFilter *ignore.Filter

	Notifier *publish.Notifier
	Conn     *database.Conn
	Gateway  *publish.Gateway
}

type appOptions struct {
	tracker  transform.DependencyTracker
	client   *http.Client
	settings database.SettingsFunc
	root     string
	fs       afero.Fs
}

// AppOption configures NewApp.
type AppOption func(*appOptions)

// WithDependencyTracker records the files included by main files.
func WithDependencyTracker(t transform.DependencyTracker) AppOption {
	return func(o *appOptions) { o.tracker = t }
}

// WithHTTPClient sets the client used for publish calls.
func WithHTTPClient(c *http.Client) AppOption {
	return func(o *appOptions) { o.client = c }
}

// WithDatabaseSettings replaces the wp-config.php lookup.
func WithDatabaseSettings(s database.SettingsFunc) AppOption {
	return func(o *appOptions) { o.settings = s }
}

// WithProjectRoot resolves relative configured paths against root instead
// of the working directory.
func WithProjectRoot(root string) AppOption {
	return func(o *appOptions) { o.root = root }
}

// NewApp wires the components for cfg.
func NewApp(cfg *config.Config, logger logging.Logger, opts ...AppOption) (*App, error) {
	o := &appOptions{root: ".", fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(o)
	}
	root, err := filepath.Abs(o.root)
	if err != nil {
		return nil, errors.NewEnvironmentError("PROJECT_ROOT", "resolve project root", err)
	}

	preOpts := []transform.PreprocessorOption{}
	if o.tracker != nil {
		preOpts = append(preOpts, transform.WithDependencyTracker(o.tracker))
	}
	pre := transform.NewPreprocessor(logger, preOpts...)
	docs := transform.NewDocRenderer()

	pluginsDir := resolve(root, cfg.PluginsSource())
	snippetsDir := resolve(root, cfg.SnippetsSource())

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Idle:     idle.New(logger),
		Project:  o.fs,
		Root:     root,
		Plugins:  packages.NewRepository(o.fs, packages.KindPlugin, pluginsDir, pre, docs, logger),
		Snippets: packages.NewRepository(o.fs, packages.KindSnippet, snippetsDir, pre, docs, logger),
		PluginFilter: ignore.NewFilter(
			ignore.NewManifests(o.fs, pluginsDir, logger),
			ignore.WithReverseArtifacts(cfg.Sync.LanguagesDir, cfg.Sync.ReverseExtensions),
		),
	}

	app.Notifier = publish.NewNotifier(publish.Config{
		Enabled: cfg.Publish.Use,
		URL:     cfg.Publish.URL,
		Auth:    cfg.Publish.Auth,
		Timeout: cfg.Publish.Timeout,
	}, o.client, logger)

	settings := o.settings
	if settings == nil {
		settings = database.FromWPConfig(o.fs, cfg.Server.Root, cfg.Database.Driver, cfg.Database.DSN, cfg.Database.Prefix)
	}
	app.Conn = database.NewConn(settings, app.Idle, logger)
	app.Gateway = publish.NewGateway(app.Snippets, database.NewSnippetStore(app.Conn), app.Notifier, logger)
	return app, nil
}

// Repository returns the repository of kind.
func (a *App) Repository(kind packages.Kind) *packages.Repository {
	if kind == packages.KindSnippet {
		return a.Snippets
	}
	return a.Plugins
}

// Close releases the shared database connection.
func (a *App) Close() error {
	return a.Conn.Close()
}

// reportError logs a failure of one file with its package, path and event.
func (a *App) reportError(collector *errors.ErrorCollector) func(ctx context.Context, f *vfile.File, err error) {
	return func(ctx context.Context, f *vfile.File, err error) {
		if collector != nil {
			collector.Add(err)
		}
		a.Logger.Error(ctx, err, fmt.Sprintf("unable to process %s", f.RelativePath),
			"package", f.Package(), "file", f.RelativePath, "event", f.Event.String())
	}
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}
