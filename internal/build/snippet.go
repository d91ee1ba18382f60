package build

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
)

const (
	snippetGenerator = "Code Snippets v3.3.0"
	snippetPriority  = "10"
	snippetDate      = "2006-01-02 15:04"
)

// SnippetExport is the Code Snippets import file format.
type SnippetExport struct {
	Generator   string          `json:"generator"`
	DateCreated string          `json:"date_created"`
	Snippets    []SnippetRecord `json:"snippets"`
}

// SnippetRecord is one snippet of an export.
type SnippetRecord struct {
	Name     string `json:"name"`
	Scope    string `json:"scope"`
	Code     string `json:"code"`
	Desc     string `json:"desc"`
	Priority string `json:"priority"`
}

// SnippetBuilder writes build/snippets/<slug>/<slug>_<version>.code-snippets.json.
type SnippetBuilder struct {
	repo      *packages.Repository
	out       afero.Fs
	dir       string
	publisher Publisher
	logger    logging.Logger
	now       func() time.Time
}

// NewSnippetBuilder creates a SnippetBuilder writing below dir on out.
// publisher may be nil.
func NewSnippetBuilder(repo *packages.Repository, out afero.Fs, dir string, publisher Publisher, logger logging.Logger) *SnippetBuilder {
	return &SnippetBuilder{
		repo:      repo,
		out:       out,
		dir:       dir,
		publisher: publisher,
		logger:    logger.WithComponent("build-snippet"),
		now:       time.Now,
	}
}

// Build exports slug as a single snippet import file.
func (b *SnippetBuilder) Build(ctx context.Context, slug string) (*Artifact, error) {
	snippet, err := b.repo.Snippet(ctx, slug)
	if err != nil {
		return nil, err
	}

	data, err := EncodeExport(SnippetExport{
		Generator:   snippetGenerator,
		DateCreated: b.now().Format(snippetDate),
		Snippets: []SnippetRecord{{
			Name:     snippet.Name,
			Scope:    string(snippet.Scope),
			Code:     snippet.Code,
			Desc:     snippet.Description,
			Priority: snippetPriority,
		}},
	})
	if err != nil {
		return nil, errors.NewInternalError("SNIPPET_ENCODE", "encode snippet export", err).WithPackage(slug)
	}

	path := artifactPath(b.dir, packages.KindSnippet, slug, snippet.Version, ".code-snippets.json")
	if err := writeArtifact(b.out, slug, path, data); err != nil {
		return nil, err
	}
	b.logger.Info(ctx, "snippet built", "package", slug, "version", snippet.Version, "artifact", path)

	if b.publisher != nil {
		b.publisher.Publish(ctx, snippet.Name, snippet.Version)
	}
	return &Artifact{Kind: packages.KindSnippet, Slug: slug, Title: snippet.Name, Version: snippet.Version, Path: path}, nil
}

// EncodeExport renders an export with a two space indent and escaped
// slashes, as the Code Snippets plugin writes it.
func EncodeExport(export SnippetExport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		return nil, err
	}
	out := bytes.ReplaceAll(bytes.TrimRight(buf.Bytes(), "\n"), []byte("/"), []byte(`\/`))
	return out, nil
}
