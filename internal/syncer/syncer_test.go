package syncer

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wpbuilder/internal/ignore"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/pipeline"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

func add(rel, content string) *vfile.File {
	return &vfile.File{Path: "/src/" + rel, Base: "/src", RelativePath: rel, Event: vfile.EventAdd, Contents: []byte(content)}
}

func event(rel string, ev vfile.Event) *vfile.File {
	return &vfile.File{Path: "/src/" + rel, Base: "/src", RelativePath: rel, Event: ev}
}

func readFile(t *testing.T, fsys afero.Fs, name string) string {
	t.Helper()
	data, err := afero.ReadFile(fsys, name)
	require.NoError(t, err)
	return string(data)
}

func TestMirror_IdempotentWrite(t *testing.T) {
	dest := afero.NewMemMapFs()
	m := NewMirror(dest, logging.NewNop())
	ctx := context.Background()

	f := add("shop/css/style.css", "a{color:red}")
	require.NoError(t, m.Apply(ctx, f))
	first := readFile(t, dest, "/shop/css/style.css")

	written, err := m.Write(ctx, f.RelativePath, f.Contents, 0o644)
	require.NoError(t, err)
	assert.False(t, written, "unchanged content is not rewritten")
	assert.Equal(t, first, readFile(t, dest, "/shop/css/style.css"))

	written, err = m.Write(ctx, f.RelativePath, []byte("a{color:blue}"), 0o644)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "a{color:blue}", readFile(t, dest, "/shop/css/style.css"))
}

func TestMirror_DeleteDirectory(t *testing.T) {
	dest := afero.NewMemMapFs()
	m := NewMirror(dest, logging.NewNop())
	ctx := context.Background()

	for _, rel := range []string{"shop/shop.php", "shop/inc/a.php", "shop/inc/deep/b.php", "blog/blog.php"} {
		require.NoError(t, m.Apply(ctx, add(rel, "<?php")))
	}

	require.NoError(t, m.Apply(ctx, event("shop", vfile.EventUnlinkDir)))
	exists, err := afero.Exists(dest, "/shop")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.True(t, m.Exists("blog/blog.php"))

	// Already absent is not an error.
	require.NoError(t, m.Apply(ctx, event("shop", vfile.EventUnlinkDir)))
	require.NoError(t, m.Apply(ctx, event("shop/gone.php", vfile.EventUnlink)))
}

func TestMirror_TypeSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("file replaced by directory", func(t *testing.T) {
		dest := afero.NewMemMapFs()
		m := NewMirror(dest, logging.NewNop())
		require.NoError(t, m.Apply(ctx, add("shop/assets", "not a dir")))

		require.NoError(t, m.Apply(ctx, event("shop/assets", vfile.EventAddDir)))
		info, err := dest.Stat("/shop/assets")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("file in the way of a parent directory", func(t *testing.T) {
		dest := afero.NewMemMapFs()
		m := NewMirror(dest, logging.NewNop())
		require.NoError(t, m.Apply(ctx, add("shop/assets", "not a dir")))

		require.NoError(t, m.Apply(ctx, add("shop/assets/app.js", "js")))
		assert.Equal(t, "js", readFile(t, dest, "/shop/assets/app.js"))
	})

	t.Run("directory replaced by file", func(t *testing.T) {
		dest := afero.NewMemMapFs()
		m := NewMirror(dest, logging.NewNop())
		require.NoError(t, m.Apply(ctx, add("shop/readme/old.txt", "old")))

		require.NoError(t, m.Apply(ctx, add("shop/readme", "now a file")))
		info, err := dest.Stat("/shop/readme")
		require.NoError(t, err)
		assert.False(t, info.IsDir())
		assert.Equal(t, "now a file", readFile(t, dest, "/shop/readme"))
		exists, _ := afero.Exists(dest, "/shop/readme/old.txt")
		assert.False(t, exists)
	})
}

type engineFixture struct {
	source afero.Fs
	dest   afero.Fs
	engine *Engine
}

func newEngine(t *testing.T, files map[string]string, opts ...EngineOption) *engineFixture {
	t.Helper()
	source := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(source, "/"+name, []byte(content), 0o644))
	}
	dest := afero.NewMemMapFs()
	filter := ignore.NewFilter(
		ignore.NewManifests(source, "/", logging.NewNop()),
		ignore.WithReverseArtifacts("languages", []string{".mo", ".po", ".json"}),
	)
	engine := NewEngine(source, NewMirror(dest, logging.NewNop()), filter, logging.NewNop(), opts...)
	return &engineFixture{source: source, dest: dest, engine: engine}
}

func upperTransform() pipeline.Stage {
	return pipeline.Map(func(_ context.Context, f *vfile.File) (*vfile.File, error) {
		out := f.Clone()
		if path.Ext(out.RelativePath) == ".md" {
			out.Rename(strings.TrimSuffix(out.RelativePath, ".md") + ".html")
		}
		out.Contents = bytes.ToUpper(out.Contents)
		return out, nil
	})
}

func mdToHTML(rel string) string {
	if path.Ext(rel) == ".md" {
		return strings.TrimSuffix(rel, ".md") + ".html"
	}
	return rel
}

func TestEngine_Routes(t *testing.T) {
	fx := newEngine(t, map[string]string{
		"shop/composer.lock": `{"packages":[{"name":"acme/widget"}]}`,
	}, WithTransform(upperTransform()), WithDestinationName(mdToHTML))
	stage := fx.engine.Stage()
	ctx := context.Background()

	for _, f := range []*vfile.File{
		add("shop/shop.php", "<?php // main"),
		add("shop/README.md", "# shop"),
		add("shop/css/a.css", "a{}"),
		add("shop/node_modules/x/y.js", "y"),
		add("shop/languages/fr_FR.mo", "mo"),
	} {
		_, err := stage.Process(ctx, f)
		require.NoError(t, err)
	}

	assert.Equal(t, "<?PHP // MAIN", readFile(t, fx.dest, "/shop/shop.php"))
	assert.Equal(t, "# SHOP", readFile(t, fx.dest, "/shop/README.html"))
	assert.Equal(t, "a{}", readFile(t, fx.dest, "/shop/css/a.css"))
	for _, name := range []string{"/shop/node_modules/x/y.js", "/shop/languages/fr_FR.mo", "/shop/README.md"} {
		exists, _ := afero.Exists(fx.dest, name)
		assert.False(t, exists, name)
	}

	_, err := stage.Process(ctx, event("shop/README.md", vfile.EventUnlink))
	require.NoError(t, err)
	exists, _ := afero.Exists(fx.dest, "/shop/README.html")
	assert.False(t, exists)
}

func TestEngine_TransformErrorStopsFile(t *testing.T) {
	failing := pipeline.StageFunc(func(context.Context, *vfile.File) ([]*vfile.File, error) {
		return nil, assert.AnError
	})
	fx := newEngine(t, nil, WithTransform(failing))

	_, err := fx.engine.Stage().Process(context.Background(), add("shop/shop.php", "<?php"))
	require.ErrorIs(t, err, assert.AnError)
	exists, _ := afero.Exists(fx.dest, "/shop/shop.php")
	assert.False(t, exists)
}

func TestEngine_ManifestChangeInvalidatesCache(t *testing.T) {
	fx := newEngine(t, map[string]string{
		"shop/composer.lock": `{"packages":[]}`,
	})
	stage := fx.engine.Stage()
	ctx := context.Background()

	widget := add("shop/vendor/acme/widget/w.php", "<?php")
	widget.Stat = fileInfo(t, fx.source, "shop/vendor/acme/widget/w.php", "<?php")
	_, err := stage.Process(ctx, widget)
	require.NoError(t, err)
	exists, _ := afero.Exists(fx.dest, "/shop/vendor/acme/widget/w.php")
	assert.False(t, exists, "undeclared dependency is not shipped")

	lock := `{"packages":[{"name":"acme/widget"}]}`
	require.NoError(t, afero.WriteFile(fx.source, "/shop/composer.lock", []byte(lock), 0o644))
	_, err = stage.Process(ctx, add("shop/composer.lock", lock))
	require.NoError(t, err)

	_, err = stage.Process(ctx, widget)
	require.NoError(t, err)
	assert.Equal(t, "<?php", readFile(t, fx.dest, "/shop/vendor/acme/widget/w.php"))
}

func fileInfo(t *testing.T, fsys afero.Fs, rel, content string) fs.FileInfo {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, "/"+rel, []byte(content), 0o644))
	info, err := fsys.Stat("/" + rel)
	require.NoError(t, err)
	return info
}

type recordingHooks struct {
	mu      sync.Mutex
	watched []string
	removed []string
}

func (h *recordingHooks) WatchPackage(_ context.Context, slug string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watched = append(h.watched, slug)
	return nil
}

func (h *recordingHooks) UnwatchPackage(_ context.Context, slug string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, slug)
	return nil
}

func TestEngine_PackageHooks(t *testing.T) {
	hooks := &recordingHooks{}
	fx := newEngine(t, nil, WithPackageHooks(hooks, "languages"))
	stage := fx.engine.Stage()
	ctx := context.Background()

	for _, f := range []*vfile.File{
		event("shop", vfile.EventAddDir),
		event("shop/css", vfile.EventAddDir),
		event("shop/languages", vfile.EventAddDir),
		event("shop/languages", vfile.EventUnlinkDir),
		event("shop", vfile.EventUnlinkDir),
	} {
		_, err := stage.Process(ctx, f)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"shop", "shop"}, hooks.watched)
	assert.Equal(t, []string{"shop"}, hooks.removed)
}

func TestEngine_AfterSeesWrittenFiles(t *testing.T) {
	var seen []string
	after := pipeline.DoAction(func(_ context.Context, f *vfile.File) error {
		seen = append(seen, f.String())
		return nil
	})
	fx := newEngine(t, nil, WithAfter(after))
	stage := fx.engine.Stage()
	ctx := context.Background()

	_, err := stage.Process(ctx, add("shop/shop.php", "<?php"))
	require.NoError(t, err)
	_, err = stage.Process(ctx, add("shop/node_modules/a.js", "x"))
	require.NoError(t, err)

	assert.Equal(t, []string{"add shop/shop.php"}, seen)
}

func TestEngine_CleanStale(t *testing.T) {
	fx := newEngine(t, map[string]string{
		"shop/shop.php":  "<?php",
		"shop/inc/a.php": "<?php",
		"blog/blog.php":  "<?php",
	})
	for name, content := range map[string]string{
		"/shop/shop.php":             "<?php old",
		"/shop/inc/a.php":            "<?php",
		"/shop/inc/removed.php":      "<?php",
		"/shop/old/x.php":            "<?php",
		"/shop/old/y/z.php":          "<?php",
		"/shop/languages/shop-fr.mo": "mo",
		"/blog/obsolete.php":         "<?php",
	} {
		require.NoError(t, afero.WriteFile(fx.dest, name, []byte(content), 0o644))
	}

	require.NoError(t, fx.engine.CleanStale(context.Background(), "shop"))

	for name, want := range map[string]bool{
		"/shop/shop.php":             true,
		"/shop/inc/a.php":            true,
		"/shop/inc/removed.php":      false,
		"/shop/old":                  false,
		"/shop/languages/shop-fr.mo": true,
		"/blog/obsolete.php":         true,
	} {
		exists, err := afero.Exists(fx.dest, name)
		require.NoError(t, err)
		assert.Equal(t, want, exists, name)
	}

	require.NoError(t, fx.engine.CleanStale(context.Background(), "missing"))
}

func TestEngine_CleanBeforeCopyOnOneLane(t *testing.T) {
	fx := newEngine(t, map[string]string{"shop/shop.php": "<?php v2"})
	require.NoError(t, afero.WriteFile(fx.dest, "/shop/renamed.php", []byte("<?php"), 0o644))

	queue := pipeline.NewKeyedQueue(nil)
	defer queue.Close()
	var failures []error
	runner := pipeline.NewRunner(fx.engine.Stage(), queue, func(_ context.Context, _ *vfile.File, err error) {
		failures = append(failures, err)
	})

	ctx := context.Background()
	require.NoError(t, runner.Do(ctx, "shop", func(ctx context.Context) error {
		return fx.engine.CleanStale(ctx, "shop")
	}))
	require.NoError(t, runner.Submit(ctx, add("shop/shop.php", "<?php v2")))
	runner.Wait()

	assert.Empty(t, failures)
	assert.Equal(t, "<?php v2", readFile(t, fx.dest, "/shop/shop.php"))
	exists, _ := afero.Exists(fx.dest, "/shop/renamed.php")
	assert.False(t, exists)
}

func TestEngine_CopyArtifacts(t *testing.T) {
	fx := newEngine(t, map[string]string{
		"shop/languages/shop-fr_FR.po":   "po",
		"shop/languages/shop-fr_FR.mo":   "mo",
		"shop/languages/shop-fr_FR.json": "{}",
		"shop/shop.php":                  "<?php",
	})

	require.NoError(t, fx.engine.CopyArtifacts(context.Background(), "shop", "languages", []string{".po", ".mo"}))
	assert.Equal(t, "po", readFile(t, fx.dest, "/shop/languages/shop-fr_FR.po"))
	assert.Equal(t, "mo", readFile(t, fx.dest, "/shop/languages/shop-fr_FR.mo"))
	exists, _ := afero.Exists(fx.dest, "/shop/languages/shop-fr_FR.json")
	assert.False(t, exists)
	exists, _ = afero.Exists(fx.dest, "/shop/shop.php")
	assert.False(t, exists)

	require.NoError(t, fx.engine.CopyArtifacts(context.Background(), "blog", "languages", []string{".po"}))
}

func TestReverseSync_CopiesCompiledArtifacts(t *testing.T) {
	server := t.TempDir()
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(server, "shop", "languages"), 0o755))

	rs, err := NewReverseSync(server, "languages", []string{".mo", ".po", ".json"}, 20*time.Millisecond,
		NewOsMirror(project, logging.NewNop()), logging.NewNop())
	require.NoError(t, err)
	defer rs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rs.WatchPackage(ctx, "shop"))
	require.NoError(t, rs.WatchPackage(ctx, "shop"))
	require.NoError(t, rs.WatchPackage(ctx, "blog"), "missing directory is skipped")
	go func() { _ = rs.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(server, "shop", "languages", "shop-fr_FR.php"), []byte("<?php"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(server, "shop", "languages", "shop-fr_FR.mo"), []byte("mo"), 0o644))

	target := filepath.Join(project, "shop", "languages", "shop-fr_FR.mo")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == "mo"
	}, 5*time.Second, 20*time.Millisecond)

	_, err = os.Stat(filepath.Join(project, "shop", "languages", "shop-fr_FR.php"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, rs.UnwatchPackage(ctx, "shop"))
	require.NoError(t, rs.UnwatchPackage(ctx, "shop"))
}

func TestReverseSync_ArtifactDirectoryCreatedOnServer(t *testing.T) {
	server := t.TempDir()
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(server, "shop"), 0o755))

	rs, err := NewReverseSync(server, "languages", []string{".mo", ".po", ".json"}, 20*time.Millisecond,
		NewOsMirror(project, logging.NewNop()), logging.NewNop())
	require.NoError(t, err)
	defer rs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rs.WatchPackage(ctx, "shop"))
	go func() { _ = rs.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// Siblings of the artifact directory stay unwatched.
	require.NoError(t, os.MkdirAll(filepath.Join(server, "shop", "inc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(server, "shop", "inc", "extra.po"), []byte("po"), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(server, "shop", "languages"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(server, "shop", "languages", "shop-fr_FR.mo"), []byte("mo"), 0o644))

	target := filepath.Join(project, "shop", "languages", "shop-fr_FR.mo")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(target)
		return err == nil && string(data) == "mo"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(server, "shop", "languages", "shop-de_DE.mo"), []byte("de"), 0o644))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(project, "shop", "languages", "shop-de_DE.mo"))
		return err == nil && string(data) == "de"
	}, 5*time.Second, 20*time.Millisecond)

	_, err = os.Stat(filepath.Join(project, "shop", "inc", "extra.po"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, rs.UnwatchPackage(ctx, "shop"))
}
