package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wpbuilder/internal/database"
	"github.com/conneroisu/wpbuilder/internal/logging"
	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/transform"
)

type endpoint struct {
	mu       sync.Mutex
	paths    []string
	payloads []payload
	status   int
}

func (e *endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var p payload
	_ = json.NewDecoder(r.Body).Decode(&p)
	e.paths = append(e.paths, r.URL.Path)
	e.payloads = append(e.payloads, p)
	if e.status != 0 {
		w.WriteHeader(e.status)
	}
	_, _ = w.Write([]byte("ok"))
}

func (e *endpoint) calls() []payload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]payload(nil), e.payloads...)
}

func newEndpoint(t *testing.T) (*endpoint, *httptest.Server) {
	t.Helper()
	e := &endpoint{}
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return e, srv
}

func TestNotifier_Dedup(t *testing.T) {
	e, srv := newEndpoint(t)
	n := NewNotifier(Config{Enabled: true, URL: srv.URL + "/", Auth: "token"}, nil, logging.NewNop())
	ctx := context.Background()

	n.Publish(ctx, "Shop Tools", "1.0.0")
	n.Publish(ctx, "Shop Tools", "1.0.0")
	assert.Len(t, e.calls(), 1)

	n.Publish(ctx, "Shop Tools", "1.0.1")
	n.Publish(ctx, "Promo Banner", "1.0.1")

	calls := e.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, payload{Name: "Shop Tools", Version: "1.0.0"}, calls[0])
	assert.Equal(t, payload{Name: "Shop Tools", Version: "1.0.1"}, calls[1])
	assert.Equal(t, payload{Name: "Promo Banner", Version: "1.0.1"}, calls[2])
	assert.Equal(t, "/token", e.paths[0])
}

func TestNotifier_Disabled(t *testing.T) {
	e, srv := newEndpoint(t)
	n := NewNotifier(Config{URL: srv.URL, Auth: "token"}, nil, logging.NewNop())

	n.Publish(context.Background(), "Shop Tools", "1.0.0")
	assert.False(t, n.Enabled())
	assert.Empty(t, e.calls())
}

func TestNotifier_FailuresAreSwallowed(t *testing.T) {
	e, srv := newEndpoint(t)
	e.status = http.StatusInternalServerError
	n := NewNotifier(Config{Enabled: true, URL: srv.URL, Auth: "token"}, nil, logging.NewNop())

	assert.NotPanics(t, func() {
		n.Publish(context.Background(), "Shop Tools", "1.0.0")
	})
	assert.Len(t, e.calls(), 1)

	_, err := n.post(context.Background(), "Shop Tools", "1.0.0")
	assert.Error(t, err)
}

func TestNotifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	n := NewNotifier(Config{Enabled: true, URL: srv.URL, Auth: "token", Timeout: 50 * time.Millisecond}, nil, logging.NewNop())
	start := time.Now()
	_, err := n.post(context.Background(), "Shop Tools", "1.0.0")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

const promoSnippet = `<?php
/**
 * Snippet Name: Promo Banner
 * Version: 1.2.3
 * Scope: front-end
 */
echo 'promo';
`

const createSnippets = "CREATE TABLE `wp_snippets` (" +
	"`id` INTEGER PRIMARY KEY AUTOINCREMENT, `name` TEXT NOT NULL, `description` TEXT NOT NULL DEFAULT '', " +
	"`code` TEXT NOT NULL, `tags` TEXT NOT NULL DEFAULT '', `scope` TEXT NOT NULL DEFAULT 'global', " +
	"`priority` INTEGER NOT NULL DEFAULT 10, `active` INTEGER NOT NULL DEFAULT 0)"

type gatewayFixture struct {
	fs       afero.Fs
	conn     *database.Conn
	endpoint *endpoint
	gateway  *Gateway
}

func newGateway(t *testing.T) *gatewayFixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/snippets/promo/promo.php", []byte(promoSnippet), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/snippets/promo/README.md", []byte("# Promo\n\nShows a banner.\n"), 0o644))

	pre := transform.NewPreprocessor(logging.NewNop(), transform.WithFileReader(func(p string) ([]byte, error) {
		return afero.ReadFile(fsys, p)
	}))
	repo := packages.NewRepository(fsys, packages.KindSnippet, "/src/snippets", pre, transform.NewDocRenderer(), logging.NewNop())

	dsn := filepath.Join(t.TempDir(), "wp.db")
	conn := database.NewConn(func(context.Context) (database.Settings, error) {
		return database.Settings{Driver: "sqlite", DSN: dsn, Prefix: "wp_"}, nil
	}, nil, logging.NewNop())
	t.Cleanup(func() { _ = conn.Close() })
	db, _, err := conn.DB(context.Background())
	require.NoError(t, err)
	_, err = db.Exec(createSnippets)
	require.NoError(t, err)

	e, srv := newEndpoint(t)
	notifier := NewNotifier(Config{Enabled: true, URL: srv.URL, Auth: "token"}, nil, logging.NewNop())
	return &gatewayFixture{
		fs:       fsys,
		conn:     conn,
		endpoint: e,
		gateway:  NewGateway(repo, database.NewSnippetStore(conn), notifier, logging.NewNop()),
	}
}

func (g *gatewayFixture) rows(t *testing.T) map[string]string {
	t.Helper()
	db, _, err := g.conn.DB(context.Background())
	require.NoError(t, err)
	rows, err := db.Query("SELECT `name`, `code` FROM `wp_snippets`")
	require.NoError(t, err)
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var name, code string
		require.NoError(t, rows.Scan(&name, &code))
		out[name] = code
	}
	require.NoError(t, rows.Err())
	return out
}

func TestGateway_InsertThenUpdate(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()

	require.NoError(t, g.gateway.HotUpdate(ctx, "promo"))
	rows := g.rows(t)
	require.Len(t, rows, 1)
	assert.Contains(t, rows["Promo Banner"], "echo 'promo';")
	assert.NotContains(t, rows["Promo Banner"], "<?php")

	edited := []byte(promoSnippet + "echo 'more';\n")
	require.NoError(t, afero.WriteFile(g.fs, "/src/snippets/promo/promo.php", edited, 0o644))
	require.NoError(t, g.gateway.HotUpdate(ctx, "promo"))

	rows = g.rows(t)
	require.Len(t, rows, 1)
	assert.Contains(t, rows["Promo Banner"], "echo 'more';")

	assert.Equal(t, []payload{{Name: "Promo Banner", Version: "1.2.3"}}, g.endpoint.calls())
}

func TestGateway_RemoteErrorsAreSwallowed(t *testing.T) {
	g := newGateway(t)
	db, _, err := g.conn.DB(context.Background())
	require.NoError(t, err)
	_, err = db.Exec("DROP TABLE `wp_snippets`")
	require.NoError(t, err)

	assert.NoError(t, g.gateway.HotUpdate(context.Background(), "promo"))
	assert.Empty(t, g.endpoint.calls())
}

func TestGateway_ContentErrorsAreReturned(t *testing.T) {
	g := newGateway(t)
	assert.Error(t, g.gateway.HotUpdate(context.Background(), "missing"))
}
