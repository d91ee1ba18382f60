package database

import (
	"context"
	"database/sql"
	"sync"

	// Registers the "mysql" driver.
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"
	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/idle"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// Settings select the database to open.
type Settings struct {
	Driver string
	DSN    string
	// Prefix is the WordPress table prefix.
	Prefix string
}

// SettingsFunc resolves Settings when the connection is first needed.
type SettingsFunc func(ctx context.Context) (Settings, error)

// FromWPConfig resolves Settings from the wp-config.php of the server at
// root. A non empty dsn replaces the file settings; a non empty prefix
// replaces the file table prefix.
func FromWPConfig(fsys afero.Fs, root, driver, dsn, prefix string) SettingsFunc {
	if driver == "" {
		driver = "mysql"
	}
	return func(context.Context) (Settings, error) {
		if dsn != "" {
			s := Settings{Driver: driver, DSN: dsn, Prefix: prefix}
			if s.Prefix == "" {
				s.Prefix = "wp_"
			}
			return s, nil
		}

		opts, err := ReadWPConfig(fsys, root)
		if err != nil {
			return Settings{}, err
		}
		s := Settings{Driver: driver, DSN: opts.DSN(), Prefix: opts.Prefix}
		if prefix != "" {
			s.Prefix = prefix
		}
		return s, nil
	}
}

// Teardowns receives the close function of the connection.
type Teardowns interface {
	OnIdle(name string, fn idle.Teardown)
}

// Conn is the shared database handle, opened on first use. Failed
// attempts are not cached.
type Conn struct {
	settings  SettingsFunc
	teardowns Teardowns
	logger    logging.Logger

	mu     sync.Mutex
	db     *sql.DB
	prefix string
}

// NewConn creates a Conn. teardowns may be nil.
func NewConn(settings SettingsFunc, teardowns Teardowns, logger logging.Logger) *Conn {
	return &Conn{settings: settings, teardowns: teardowns, logger: logger.WithComponent("database")}
}

// DB returns the shared handle and the table prefix.
func (c *Conn) DB(ctx context.Context) (*sql.DB, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, c.prefix, nil
	}

	s, err := c.settings(ctx)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, "", errors.NewRemoteError("DB_OPEN", "open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", errors.NewRemoteError("DB_CONNECT", "connect to database", err)
	}

	c.db, c.prefix = db, s.Prefix
	c.logger.Info(ctx, "database connected", "driver", s.Driver, "prefix", s.Prefix)
	if c.teardowns != nil {
		c.teardowns.OnIdle("database", func(context.Context) error { return c.Close() })
	}
	return c.db, c.prefix, nil
}

// Close closes the handle if it was opened.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
