package publish

import (
	"context"
	"time"

	"github.com/conneroisu/wpbuilder/internal/database"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
)

// QueryTimeout bounds the database work of one hot update.
const QueryTimeout = 10 * time.Second

// SnippetSource assembles snippet records.
type SnippetSource interface {
	Snippet(ctx context.Context, slug string) (*packages.Snippet, error)
}

// SnippetStore is the remote datastore of snippet records.
type SnippetStore interface {
	FindIDByTitle(ctx context.Context, title string) (int64, bool, error)
	Update(ctx context.Context, id int64, fields database.SnippetFields) error
	Insert(ctx context.Context, fields database.SnippetFields) (int64, error)
}

// Gateway applies local snippet edits to the server database and publishes
// the resulting version.
type Gateway struct {
	snippets SnippetSource
	store    SnippetStore
	notifier *Notifier
	logger   logging.Logger
}

// NewGateway creates a Gateway.
func NewGateway(snippets SnippetSource, store SnippetStore, notifier *Notifier, logger logging.Logger) *Gateway {
	return &Gateway{
		snippets: snippets,
		store:    store,
		notifier: notifier,
		logger:   logger.WithComponent("hot-update"),
	}
}

// HotUpdate writes the current state of snippet slug to the server,
// updating the record with the same title or inserting a new one, then
// publishes its version. Content errors are returned; database failures
// are logged with the snippet title and swallowed.
func (g *Gateway) HotUpdate(ctx context.Context, slug string) error {
	snippet, err := g.snippets.Snippet(ctx, slug)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	fields := database.SnippetFields{
		Name:        snippet.Name,
		Code:        snippet.Code,
		Description: snippet.Description,
		Scope:       string(snippet.Scope),
		Tags:        snippet.Tags,
	}

	id, found, err := g.store.FindIDByTitle(ctx, snippet.Name)
	if err != nil {
		g.logger.Warn(ctx, err, "snippet lookup failed", "package", slug, "title", snippet.Name)
		return nil
	}

	if found {
		if err := g.store.Update(ctx, id, fields); err != nil {
			g.logger.Warn(ctx, err, "snippet update failed", "package", slug, "title", snippet.Name, "id", id)
			return nil
		}
		g.logger.Info(ctx, "hot updated", "package", slug, "title", snippet.Name, "id", id)
	} else {
		id, err = g.store.Insert(ctx, fields)
		if err != nil {
			g.logger.Warn(ctx, err, "snippet insert failed", "package", slug, "title", snippet.Name)
			return nil
		}
		g.logger.Info(ctx, "snippet installed", "package", slug, "title", snippet.Name, "id", id)
	}

	if g.notifier != nil {
		g.notifier.Publish(context.WithoutCancel(ctx), snippet.Name, snippet.Version)
	}
	return nil
}
