package packages

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/transform"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

const (
	pluginRoot  = "/project/src/plugins"
	snippetRoot = "/project/src/snippets"
)

const shopMain = `<?php
/**
 * Plugin Name: Shop Tools
 * Description: Small shop helpers
 * Version: 2.0.0
 * Author: Acme
 * Text Domain: shop
 */
/* <<<include_once inc/helpers.php>>> */
`

const bannerSnippet = `<?php
/**
 * Snippet Name: Promo Banner
 * Version: 1.2.3-beta
 * Scope: front-end
 */
add_action('wp_footer', function () { echo 'promo'; });
`

func newRepo(t *testing.T, kind Kind, root string, files map[string]string) (afero.Fs, *Repository) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, root+"/"+name, []byte(content), 0o644))
	}
	pre := transform.NewPreprocessor(logging.NewNop(), transform.WithFileReader(func(p string) ([]byte, error) {
		return afero.ReadFile(fsys, p)
	}))
	return fsys, NewRepository(fsys, kind, root, pre, transform.NewDocRenderer(), logging.NewNop())
}

func TestRepository_List(t *testing.T) {
	_, repo := newRepo(t, KindSnippet, snippetRoot, map[string]string{
		"promo/promo.php":  bannerSnippet,
		"embed/embed.html": "<p>embed</p>",
		"broken/other.php": "<?php",
		"notes.txt":        "not a package",
	})

	pkgs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "embed", pkgs[0].Slug)
	assert.Equal(t, "promo", pkgs[1].Slug)
	assert.Equal(t, KindSnippet, pkgs[1].Kind)
	assert.Equal(t, snippetRoot+"/promo", pkgs[1].Dir)

	main, err := repo.MainFile("embed")
	require.NoError(t, err)
	assert.Equal(t, snippetRoot+"/embed/embed.html", main)

	_, err = repo.Get("broken")
	assert.True(t, errors.IsContentError(err))

	_, empty := newRepo(t, KindPlugin, "/missing", nil)
	pkgs, err = empty.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestRepository_PluginsIgnoreHTMLMainFile(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.html": "<p>not a plugin</p>",
	})
	_, err := repo.MainFile("shop")
	assert.Error(t, err)
}

func TestRepository_VersionAndTitle(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php":         shopMain,
		"blog/blog.php":         "<?php\n/**\n * Version: 0.1.0\n */\n",
		"blog/README.md":        "# Blog Helpers\n\ntext\n",
		"bare-one/bare-one.php": "<?php\n",
	})

	v, err := repo.Version("shop")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", v)

	_, err = repo.Version("bare-one")
	require.Error(t, err)
	assert.True(t, errors.IsContentError(err))

	assert.Equal(t, "Shop Tools", repo.Title("shop"))
	assert.Equal(t, "Blog Helpers", repo.Title("blog"))
	assert.Equal(t, "Bare One", repo.Title("bare-one"))
}

func TestRepository_Doc(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php":  shopMain,
		"shop/README.md": "# My Plugin\n\nSome **docs**.\n",
		"blog/blog.php":  "<?php",
	})

	doc, title, err := repo.Doc("shop", "2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "My Plugin", title)
	assert.Contains(t, string(doc), "Version 2.0.0")
	assert.Contains(t, string(doc), "<strong>docs</strong>")

	doc, title, err = repo.Doc("blog", "1.0.0")
	require.NoError(t, err)
	assert.Empty(t, doc)
	assert.Empty(t, title)
}

func TestRepository_Code(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php":        shopMain,
		"shop/inc/helpers.php": "<?php\nfunction shop_helper() {}\n",
		"broken/broken.php":    "<?php /* <<<nope x>>> */",
	})

	code, err := repo.Code(context.Background(), "shop")
	require.NoError(t, err)
	assert.Contains(t, string(code), "function shop_helper() {}")
	assert.NotContains(t, string(code), "<<<")

	_, err = repo.Code(context.Background(), "broken")
	require.Error(t, err)
	assert.True(t, errors.IsContentError(err))
}

func TestRepository_Snippet(t *testing.T) {
	_, repo := newRepo(t, KindSnippet, snippetRoot, map[string]string{
		"promo/promo.php": bannerSnippet,
		"promo/README.md": "# Ignored Title\n\nShows a promo.\n",
		"plain/plain.php": "<?php\n/**\n * Version: 1.0.0\n */\necho 1;\n",
		"bad/bad.php":     "<?php\n/**\n * Version: 1.0.0\n * Scope: everywhere\n */\n",
	})
	ctx := context.Background()

	s, err := repo.Snippet(ctx, "promo")
	require.NoError(t, err)
	assert.Equal(t, "Promo Banner", s.Name)
	assert.Equal(t, "1.2.3-beta", s.Version)
	assert.Equal(t, transform.ScopeFrontEnd, s.Scope)
	assert.False(t, strings.HasPrefix(s.Code, "<?php"))
	assert.Contains(t, s.Code, "add_action")
	assert.Contains(t, s.Description, "Version 1.2.3-beta")
	assert.Contains(t, s.Description, "Shows a promo.")

	s, err = repo.Snippet(ctx, "plain")
	require.NoError(t, err)
	assert.Equal(t, "Plain", s.Name)
	assert.Equal(t, transform.ScopeGlobal, s.Scope)
	assert.Empty(t, s.Description)

	_, err = repo.Snippet(ctx, "bad")
	require.Error(t, err)
	assert.True(t, errors.IsContentError(err))
}

func TestTransform(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php":        shopMain,
		"shop/inc/helpers.php": "<?php\nfunction shop_helper() {}\n",
	})
	stage := repo.Transform()
	ctx := context.Background()

	main := &vfile.File{
		Path: pluginRoot + "/shop/shop.php", Base: pluginRoot, RelativePath: "shop/shop.php",
		Event: vfile.EventChange, Contents: []byte(shopMain),
	}
	out, err := stage.Process(ctx, main)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Contains(t, string(out[0].Contents), "function shop_helper() {}")
	assert.Equal(t, shopMain, string(main.Contents), "input is not mutated")

	doc := &vfile.File{
		Path: pluginRoot + "/shop/docs/Guide.md", Base: pluginRoot, RelativePath: "shop/docs/Guide.md",
		Event: vfile.EventAdd, Contents: []byte("# Guide\n"),
	}
	out, err = stage.Process(ctx, doc)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "shop/docs/Guide.html", out[0].RelativePath)
	page := string(out[0].Contents)
	assert.Contains(t, page, "<title>Guide</title>")
	assert.Contains(t, page, "Version 2.0.0")
	assert.Equal(t, "Guide", transform.HTMLTitle(strings.SplitN(page, "</summary>", 2)[1]))

	css := &vfile.File{RelativePath: "shop/a.css", Event: vfile.EventAdd, Contents: []byte("a{}")}
	out, err = stage.Process(ctx, css)
	require.NoError(t, err)
	assert.Same(t, css, out[0])
}

func TestTransform_ErrorCarriesFile(t *testing.T) {
	_, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php": "<?php /* <<<nope x>>> */",
	})
	_, err := repo.Transform().Process(context.Background(), &vfile.File{
		Path: pluginRoot + "/shop/shop.php", Base: pluginRoot, RelativePath: "shop/shop.php",
		Event: vfile.EventChange, Contents: []byte("<?php /* <<<nope x>>> */"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "package:shop")
	assert.Contains(t, err.Error(), "shop/shop.php(change)")
}

func TestDestinationName(t *testing.T) {
	assert.Equal(t, "shop/README.html", DestinationName("shop/README.md"))
	assert.Equal(t, "shop/NOTES.html", DestinationName("shop/NOTES.MD"))
	assert.Equal(t, "shop/shop.php", DestinationName("shop/shop.php"))
}

func TestSinceUnreleased(t *testing.T) {
	fsys, repo := newRepo(t, KindPlugin, pluginRoot, map[string]string{
		"shop/shop.php":       shopMain,
		"shop/inc/a.php":      "<?php\n/**\n * @unreleased\n */\n",
		"shop/inc/b.php":      "<?php // nothing to do\n",
		"shop/vendor/x/y.php": "<?php /** @unreleased */",
	})

	changed, err := repo.SinceUnreleased(context.Background(), "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{pluginRoot + "/shop/inc/a.php"}, changed)

	data, err := afero.ReadFile(fsys, pluginRoot+"/shop/inc/a.php")
	require.NoError(t, err)
	assert.Contains(t, string(data), "@since 2.0.0")
	data, err = afero.ReadFile(fsys, pluginRoot+"/shop/vendor/x/y.php")
	require.NoError(t, err)
	assert.Contains(t, string(data), "@unreleased")
}

func TestHumanize(t *testing.T) {
	assert.Equal(t, "My Plugin", Humanize("my-plugin"))
	assert.Equal(t, "Woo Extra Fields", Humanize("woo_extra-fields"))
}
