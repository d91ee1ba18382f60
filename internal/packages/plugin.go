package packages

import (
	"context"
	"path"
	"strings"

	"github.com/conneroisu/wpbuilder/internal/ignore"
	"github.com/conneroisu/wpbuilder/internal/pipeline"
	"github.com/conneroisu/wpbuilder/internal/transform"
	"github.com/conneroisu/wpbuilder/internal/vfile"
)

// DestinationName returns the name a plugin file is shipped under:
// markdown documents become html pages.
func DestinationName(rel string) string {
	if strings.EqualFold(path.Ext(rel), ".md") {
		return strings.TrimSuffix(rel, path.Ext(rel)) + ".html"
	}
	return rel
}

// Transform returns the stage compiling plugin files whose relative path
// is <slug>/...: the main file gets its macros expanded and markdown files
// are rendered to a standalone page under the version banner.
func (r *Repository) Transform() pipeline.Stage {
	return pipeline.Map(func(ctx context.Context, f *vfile.File) (*vfile.File, error) {
		switch {
		case f.IsDir() || f.Contents == nil:
			return f, nil
		case ignore.IsMainFile(f.RelativePath):
			return r.compileMain(ctx, f)
		case f.Ext() == ".md":
			return r.renderPage(f)
		default:
			return f, nil
		}
	})
}

func (r *Repository) compileMain(ctx context.Context, f *vfile.File) (*vfile.File, error) {
	code, err := r.pre.Process(ctx, f.Path, f.Contents)
	if err != nil {
		return nil, wrapFile(err, f)
	}
	out := f.Clone()
	out.Contents = code
	return out, nil
}

func (r *Repository) renderPage(f *vfile.File) (*vfile.File, error) {
	version, err := r.Version(f.Package())
	if err != nil {
		return nil, wrapFile(err, f)
	}
	fragment, err := r.docs.Fragment(f.Contents)
	if err != nil {
		return nil, wrapFile(err, f)
	}
	stem := strings.TrimSuffix(f.Basename(), path.Ext(f.Basename()))
	page, err := r.docs.Page(stem, transform.Banner(version, fragment))
	if err != nil {
		return nil, wrapFile(err, f)
	}

	out := f.Clone()
	out.Contents = page
	out.Rename(DestinationName(f.RelativePath))
	return out, nil
}

func wrapFile(err error, f *vfile.File) error {
	return wrapPackage(err, f.Package()).WithFile(f.RelativePath, f.Event.String())
}
