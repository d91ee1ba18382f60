package packages

import (
	"context"

	"github.com/conneroisu/wpbuilder/internal/transform"
)

// Snippet is the record stored for a snippet on the server and in its
// build artifact.
type Snippet struct {
	Slug        string
	Name        string
	Code        string
	Description string
	Scope       transform.Scope
	Tags        string
	Version     string
}

// Snippet assembles the record of slug: compiled code without its opening
// php tag, rendered documentation, version, scope and title.
func (r *Repository) Snippet(ctx context.Context, slug string) (*Snippet, error) {
	raw, err := r.ReadMainFile(slug)
	if err != nil {
		return nil, err
	}
	resolver := r.Resolver()

	version, err := resolver.Version(transform.ByCode(raw))
	if err != nil {
		return nil, wrapPackage(err, slug)
	}
	scope, err := resolver.Scope(transform.ByCode(raw))
	if err != nil {
		return nil, wrapPackage(err, slug)
	}

	code, err := r.Code(ctx, slug)
	if err != nil {
		return nil, err
	}

	markdown, err := r.Markdown(slug)
	if err != nil {
		return nil, err
	}
	sources := []transform.Source{transform.ByCode(raw)}
	var doc []byte
	if markdown != nil {
		fragment, err := r.docs.Fragment(markdown)
		if err != nil {
			return nil, wrapPackage(err, slug)
		}
		doc = transform.Banner(version, fragment)
		sources = append(sources, transform.ByHTML(string(fragment)), transform.ByMarkdown(string(markdown)))
	}
	title, _ := resolver.Title(sources...)
	if title == "" {
		title = Humanize(slug)
	}

	return &Snippet{
		Slug:        slug,
		Name:        title,
		Code:        string(transform.StripOpenTag(code)),
		Description: string(doc),
		Scope:       scope,
		Version:     version,
	}, nil
}
