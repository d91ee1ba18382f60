package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/conneroisu/wpbuilder/internal/errors"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder
	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)
	return builder.String()
}

func (vr *ValidationResult) errorf(field string, value interface{}, suggestions []string, format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, ValidationError{
		Field:       field,
		Value:       value,
		Message:     fmt.Sprintf(format, args...),
		Suggestions: suggestions,
	})
}

// Validate checks the values every command relies on. The server root is
// checked separately by RequireServer.
func Validate(config *Config) *ValidationResult {
	result := &ValidationResult{}

	if config.Server.ContentDir == "" || filepath.IsAbs(config.Server.ContentDir) {
		result.errorf("server.content_dir", config.Server.ContentDir, []string{"Use the default 'wp-content'"},
			"must be a directory relative to server.root")
	}
	for field, value := range map[string]string{
		"source.dir":         config.Source.Dir,
		"source.plugins":     config.Source.Plugins,
		"source.snippets":    config.Source.Snippets,
		"build.dir":          config.Build.Dir,
		"sync.languages_dir": config.Sync.LanguagesDir,
	} {
		if value == "" {
			result.errorf(field, value, nil, "cannot be empty")
		}
	}
	if config.Build.Concurrency < 1 {
		result.errorf("build.concurrency", config.Build.Concurrency, nil, "must be at least 1")
	}

	if config.Publish.Use {
		if config.Publish.URL == "" {
			result.errorf("publish.url", config.Publish.URL, []string{"Set publish.use to false to disable publishing"},
				"is required when publish.use is true")
		} else if u, err := url.Parse(config.Publish.URL); err != nil || u.Scheme == "" || u.Host == "" {
			result.errorf("publish.url", config.Publish.URL, nil, "is not an absolute URL")
		}
	}
	if config.Publish.Timeout <= 0 {
		result.errorf("publish.timeout", config.Publish.Timeout, []string{"Use a duration such as 5s"}, "must be positive")
	}

	if config.Watch.Debounce < 0 {
		result.errorf("watch.debounce", config.Watch.Debounce, nil, "cannot be negative")
	}
	if config.Watch.IdleInterval <= 0 {
		result.errorf("watch.idle_interval", config.Watch.IdleInterval, nil, "must be positive")
	}

	for _, ext := range config.Sync.ReverseExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			result.errorf("sync.reverse_extensions", ext, []string{"Write extensions with their dot, e.g. .mo"},
				"%q is not a file extension", ext)
		}
	}

	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		result.errorf("log.level", config.Log.Level, []string{"Use debug, info, warn or error"}, "%v", err)
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		result.errorf("log.format", config.Log.Format, []string{"Use text or json"}, "unknown log format %q", config.Log.Format)
	}
	if config.Database.Driver != "mysql" && config.Database.Driver != "sqlite" {
		result.errorf("database.driver", config.Database.Driver, []string{"Use mysql, or sqlite with database.dsn"},
			"unsupported driver %q", config.Database.Driver)
	}

	return result
}

// RequireServer fails when the WordPress installation is not configured.
func (c *Config) RequireServer() error {
	if c.Server.Root == "" {
		return errors.NewConfigError("SERVER_ROOT", "server.root is not set, run `wpbuilder init` or set WPBUILDER_SERVER_ROOT")
	}
	if !filepath.IsAbs(c.Server.Root) {
		return errors.NewConfigError("SERVER_ROOT", fmt.Sprintf("server.root must be an absolute path, got %q", c.Server.Root))
	}
	return nil
}
