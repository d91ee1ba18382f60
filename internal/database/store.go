package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/conneroisu/wpbuilder/internal/errors"
)

// SnippetFields are the columns written for a snippet.
type SnippetFields struct {
	Name        string
	Code        string
	Description string
	Scope       string
	Tags        string
}

// SnippetStore reads and writes the Code Snippets table.
type SnippetStore struct {
	conn *Conn
}

// NewSnippetStore creates a store on conn.
func NewSnippetStore(conn *Conn) *SnippetStore {
	return &SnippetStore{conn: conn}
}

func table(prefix string) string {
	return "`" + prefix + "snippets`"
}

// FindIDByTitle returns the id of the snippet named title. found is false
// when the snippet is not installed on the server.
func (s *SnippetStore) FindIDByTitle(ctx context.Context, title string) (id int64, found bool, err error) {
	db, prefix, err := s.conn.DB(ctx)
	if err != nil {
		return 0, false, err
	}

	query := fmt.Sprintf("SELECT `id` FROM %s WHERE `name` = ? LIMIT 1", table(prefix))
	err = db.QueryRowContext(ctx, query, title).Scan(&id)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewRemoteError("SNIPPET_LOOKUP", "look up snippet "+title, err)
	}
	return id, true, nil
}

// Update overwrites the stored fields of snippet id.
func (s *SnippetStore) Update(ctx context.Context, id int64, f SnippetFields) error {
	db, prefix, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %s SET `name` = ?, `code` = ?, `description` = ?, `scope` = ?, `tags` = ? WHERE `id` = ?", table(prefix))
	if _, err := db.ExecContext(ctx, query, f.Name, f.Code, f.Description, f.Scope, f.Tags, id); err != nil {
		return errors.NewRemoteError("SNIPPET_UPDATE", "update snippet "+f.Name, err)
	}
	return nil
}

// Insert stores a new snippet and returns its id.
func (s *SnippetStore) Insert(ctx context.Context, f SnippetFields) (int64, error) {
	db, prefix, err := s.conn.DB(ctx)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("INSERT INTO %s (`name`, `code`, `description`, `scope`, `tags`) VALUES (?, ?, ?, ?, ?)", table(prefix))
	res, err := db.ExecContext(ctx, query, f.Name, f.Code, f.Description, f.Scope, f.Tags)
	if err != nil {
		return 0, errors.NewRemoteError("SNIPPET_INSERT", "insert snippet "+f.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.NewRemoteError("SNIPPET_INSERT", "read inserted snippet id", err)
	}
	return id, nil
}
