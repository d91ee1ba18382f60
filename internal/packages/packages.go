// Package packages reads plugin and snippet units from the project tree:
// listing them, locating their main file and assembling their metadata,
// compiled code and documentation.
package packages

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/transform"
)

// DocFile is the documentation file of a package.
const DocFile = "README.md"

// Kind tells plugins and snippets apart.
type Kind string

const (
	KindPlugin  Kind = "plugin"
	KindSnippet Kind = "snippet"
)

// Package is one plugin or snippet directory.
type Package struct {
	Kind Kind
	Slug string
	// Dir is the package directory.
	Dir string
}

// Repository gives access to the packages of one kind under root.
type Repository struct {
	fs     afero.Fs
	kind   Kind
	root   string
	pre    *transform.Preprocessor
	docs   *transform.DocRenderer
	logger logging.Logger
}

// NewRepository creates a Repository for the packages of kind stored in
// root on fsys. pre expands the main file macros.
func NewRepository(fsys afero.Fs, kind Kind, root string, pre *transform.Preprocessor, docs *transform.DocRenderer, logger logging.Logger) *Repository {
	return &Repository{
		fs:     fsys,
		kind:   kind,
		root:   root,
		pre:    pre,
		docs:   docs,
		logger: logger.WithComponent(string(kind) + "s"),
	}
}

// Kind returns the kind of package served.
func (r *Repository) Kind() Kind { return r.kind }

// Root returns the directory holding the packages.
func (r *Repository) Root() string { return r.root }

// Fs returns the filesystem packages are read from.
func (r *Repository) Fs() afero.Fs { return r.fs }

// List returns the packages having a main file, sorted by slug. A missing
// root yields no package.
func (r *Repository) List(ctx context.Context) ([]Package, error) {
	entries, err := afero.ReadDir(r.fs, r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("LIST_PACKAGES", fmt.Sprintf("read %s", r.root), err)
	}

	var pkgs []Package
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := r.MainFile(entry.Name()); err != nil {
			r.logger.Debug(ctx, "skipping directory without main file", "package", entry.Name())
			continue
		}
		pkgs = append(pkgs, r.pkg(entry.Name()))
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Slug < pkgs[j].Slug })
	return pkgs, nil
}

func (r *Repository) pkg(slug string) Package {
	return Package{Kind: r.kind, Slug: slug, Dir: filepath.Join(r.root, slug)}
}

// Get returns the package slug.
func (r *Repository) Get(slug string) (Package, error) {
	if _, err := r.MainFile(slug); err != nil {
		return Package{}, err
	}
	return r.pkg(slug), nil
}

// MainFile returns the path of the main file of slug: <slug>.php, or
// <slug>.html for snippets.
func (r *Repository) MainFile(slug string) (string, error) {
	candidates := []string{slug + ".php"}
	if r.kind == KindSnippet {
		candidates = append(candidates, slug+".html")
	}
	for _, name := range candidates {
		file := filepath.Join(r.root, slug, name)
		if info, err := r.fs.Stat(file); err == nil && !info.IsDir() {
			return file, nil
		}
	}
	return "", errors.NewContentError("NO_MAIN_FILE", fmt.Sprintf("unable to find the main file of %s %s", r.kind, slug), nil).
		WithPackage(slug)
}

// ReadMainFile returns the raw main file text of slug.
func (r *Repository) ReadMainFile(slug string) (string, error) {
	file, err := r.MainFile(slug)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(r.fs, file)
	if err != nil {
		return "", errors.NewIOError("READ_MAIN_FILE", "read main file", err).WithPackage(slug)
	}
	return string(data), nil
}

// Resolver returns a metadata resolver reading main files from r.
func (r *Repository) Resolver() transform.Resolver {
	return transform.Resolver{ReadMainFile: r.ReadMainFile}
}

// Version returns the header version of slug.
func (r *Repository) Version(slug string) (string, error) {
	v, err := r.Resolver().Version(transform.ByName(slug))
	if err != nil {
		return "", wrapPackage(err, slug)
	}
	return v, nil
}

// Markdown returns the README of slug, or nil when there is none.
func (r *Repository) Markdown(slug string) ([]byte, error) {
	data, err := afero.ReadFile(r.fs, filepath.Join(r.root, slug, DocFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("READ_DOC", "read documentation", err).WithPackage(slug)
	}
	return data, nil
}

// Doc renders the README of slug under the version banner. It returns the
// title found in the rendered markdown. A package without README has an
// empty doc.
func (r *Repository) Doc(slug, version string) (doc []byte, title string, err error) {
	markdown, err := r.Markdown(slug)
	if err != nil || markdown == nil {
		return nil, "", err
	}
	return r.docs.Doc(version, markdown)
}

// Title resolves the title of slug from its header, then its README, then
// its humanised slug.
func (r *Repository) Title(slug string) string {
	sources := []transform.Source{transform.ByName(slug)}
	if markdown, err := r.Markdown(slug); err == nil && markdown != nil {
		if fragment, err := r.docs.Fragment(markdown); err == nil {
			sources = append(sources, transform.ByHTML(string(fragment)))
		}
		sources = append(sources, transform.ByMarkdown(string(markdown)))
	}
	if title, _ := r.Resolver().Title(sources...); title != "" {
		return title
	}
	return Humanize(slug)
}

// Code returns the main file of slug with its macros expanded.
func (r *Repository) Code(ctx context.Context, slug string) ([]byte, error) {
	file, err := r.MainFile(slug)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, file)
	if err != nil {
		return nil, errors.NewIOError("READ_MAIN_FILE", "read main file", err).WithPackage(slug)
	}
	code, err := r.pre.Process(ctx, file, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeContent, "PREPROCESS", "unable to preprocess main file").WithPackage(slug)
	}
	return code, nil
}

// Humanize turns a slug into a display title.
func Humanize(slug string) string {
	return cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
}

// wrapPackage attaches slug to err.
func wrapPackage(err error, slug string) *errors.Error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.WithPackage(slug)
	}
	return errors.NewContentError("PACKAGE", err.Error(), err).WithPackage(slug)
}
