// Package database talks to the WordPress database of the local server:
// reading its connection settings from wp-config.php, holding one lazily
// opened shared connection and storing snippet records.
package database

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/afero"

	"github.com/conneroisu/wpbuilder/internal/errors"
)

// ConfigFile is the WordPress configuration file at the server root.
const ConfigFile = "wp-config.php"

const defaultHost = "localhost"

var tablePrefixRE = regexp.MustCompile(`\$table_prefix\s*=\s*(['"])([A-Za-z0-9_]+)['"]\s*;`)

func defineRE(name string) *regexp.Regexp {
	return regexp.MustCompile(`define\(\s*['"]` + name + `['"]\s*,\s*(?:'([^']*)'|"([^"]*)")\s*\)\s*;`)
}

var (
	dbNameRE     = defineRE("DB_NAME")
	dbUserRE     = defineRE("DB_USER")
	dbPasswordRE = defineRE("DB_PASSWORD")
	dbHostRE     = defineRE("DB_HOST")
)

// Options are the connection settings found in wp-config.php.
type Options struct {
	Name     string
	User     string
	Password string
	Host     string
	Prefix   string
}

func lookup(re *regexp.Regexp, content string) (string, bool) {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	if m[1] != "" {
		return m[1], true
	}
	return m[2], true
}

// ParseWPConfig extracts the connection settings of a wp-config.php text.
// DB_HOST defaults to localhost; DB_NAME, DB_USER and $table_prefix are
// required.
func ParseWPConfig(content string) (Options, error) {
	var opts Options
	var missing []string

	var ok bool
	if opts.Name, ok = lookup(dbNameRE, content); !ok || opts.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if opts.User, ok = lookup(dbUserRE, content); !ok || opts.User == "" {
		missing = append(missing, "DB_USER")
	}
	opts.Password, _ = lookup(dbPasswordRE, content)
	if opts.Host, ok = lookup(dbHostRE, content); !ok || opts.Host == "" {
		opts.Host = defaultHost
	}
	if m := tablePrefixRE.FindStringSubmatch(content); m != nil {
		opts.Prefix = m[2]
	} else {
		missing = append(missing, "$table_prefix")
	}

	if len(missing) > 0 {
		return Options{}, errors.NewConfigError("WP_CONFIG", fmt.Sprintf("unable to read %s from %s", strings.Join(missing, ", "), ConfigFile))
	}
	return opts, nil
}

// ReadWPConfig parses <root>/wp-config.php.
func ReadWPConfig(fsys afero.Fs, root string) (Options, error) {
	file := filepath.Join(root, ConfigFile)
	data, err := afero.ReadFile(fsys, file)
	if err != nil {
		return Options{}, errors.Wrap(err, errors.ErrorTypeConfig, "WP_CONFIG", "unable to read "+file)
	}
	return ParseWPConfig(string(data))
}

// DSN returns the go-sql-driver/mysql data source name. A host of the
// form "localhost:/path/to.sock" connects through the socket.
func (o Options) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.DBName = o.Name
	cfg.Net = "tcp"
	cfg.Addr = o.Host

	if _, socket, found := strings.Cut(o.Host, ":"); found && strings.HasPrefix(socket, "/") {
		cfg.Net = "unix"
		cfg.Addr = socket
	} else if !strings.Contains(o.Host, ":") {
		cfg.Addr = o.Host + ":3306"
	}
	return cfg.FormatDSN()
}
