// Package config provides configuration management for wpbuilder using
// Viper for loading from the project .wpbuilder.yml, WPBUILDER_ environment
// variables and command-line flags.
//
// The core packages never read Viper: the command layer loads a *Config
// once and passes the values into constructors.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// FileName is the project configuration file.
const FileName = ".wpbuilder.yml"

// EnvPrefix prefixes environment overrides (WPBUILDER_SERVER_ROOT, ...).
const EnvPrefix = "WPBUILDER"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Source   SourceConfig   `mapstructure:"source" yaml:"source"`
	Build    BuildConfig    `mapstructure:"build" yaml:"build"`
	Publish  PublishConfig  `mapstructure:"publish" yaml:"publish"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// ServerConfig locates the local WordPress installation.
type ServerConfig struct {
	Root       string `mapstructure:"root" yaml:"root"`
	ContentDir string `mapstructure:"content_dir" yaml:"content_dir"`
}

type SourceConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	Plugins  string `mapstructure:"plugins" yaml:"plugins"`
	Snippets string `mapstructure:"snippets" yaml:"snippets"`
}

type BuildConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

type PublishConfig struct {
	Use     bool          `mapstructure:"use" yaml:"use"`
	URL     string        `mapstructure:"url" yaml:"url"`
	Auth    string        `mapstructure:"auth" yaml:"auth"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DatabaseConfig overrides what is read from wp-config.php.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

type WatchConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	IdleInterval time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"`
}

// SyncConfig names the server compiled artifacts copied back into the project.
type SyncConfig struct {
	ReverseExtensions []string `mapstructure:"reverse_extensions" yaml:"reverse_extensions"`
	LanguagesDir      string   `mapstructure:"languages_dir" yaml:"languages_dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Every key has a default so AutomaticEnv overrides reach Unmarshal.
var defaults = map[string]interface{}{
	"server.root":             "",
	"server.content_dir":      "wp-content",
	"source.dir":              "src",
	"source.plugins":          "plugins",
	"source.snippets":         "snippets",
	"build.dir":               "build",
	"build.concurrency":       4,
	"publish.use":             false,
	"publish.timeout":         5 * time.Second,
	"publish.url":             "",
	"publish.auth":            "",
	"database.driver":         "mysql",
	"database.dsn":            "",
	"database.prefix":         "",
	"watch.debounce":          100 * time.Millisecond,
	"watch.idle_interval":     200 * time.Millisecond,
	"sync.reverse_extensions": []string{".mo", ".po", ".json"},
	"sync.languages_dir":      "languages",
	"log.level":               "info",
	"log.format":              "text",
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Default returns the configuration written by `wpbuilder init`.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return &config
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if result := Validate(&config); result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration:\n%s", result.String())
	}
	return &config, nil
}

// ContentPath is the server wp-content directory.
func (c *Config) ContentPath() string {
	return filepath.Join(c.Server.Root, c.Server.ContentDir)
}

// ServerPlugins is the directory plugins are mirrored to.
func (c *Config) ServerPlugins() string {
	return filepath.Join(c.ContentPath(), "plugins")
}

// PluginsSource is the project plugins directory.
func (c *Config) PluginsSource() string {
	return filepath.Join(c.Source.Dir, c.Source.Plugins)
}

// SnippetsSource is the project snippets directory.
func (c *Config) SnippetsSource() string {
	return filepath.Join(c.Source.Dir, c.Source.Snippets)
}
