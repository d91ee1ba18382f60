package services

import (
	"context"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/packages"
)

// TaggedPackage lists the files of one package whose @unreleased tags
// were replaced.
type TaggedPackage struct {
	Package packages.Package
	Files   []string
}

// SinceUnreleased replaces the @unreleased tags of every plugin and snippet
// with the current version of its package. A failing package does not stop
// the others.
func SinceUnreleased(ctx context.Context, app *App) ([]TaggedPackage, error) {
	collector := errors.NewErrorCollector()
	var tagged []TaggedPackage
	for _, repo := range []*packages.Repository{app.Plugins, app.Snippets} {
		list, err := repo.List(ctx)
		if err != nil {
			collector.Add(err)
			continue
		}
		for _, p := range list {
			files, err := repo.SinceUnreleased(ctx, p.Slug)
			if err != nil {
				app.Logger.Error(ctx, err, "unable to tag unreleased changes", "package", p.Slug)
				collector.Add(err)
			}
			if len(files) > 0 {
				tagged = append(tagged, TaggedPackage{Package: p, Files: files})
			}
		}
	}
	return tagged, collector.Err()
}
