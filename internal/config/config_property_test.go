//go:build property
// +build property

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConfigurationProperties tests configuration validation properties
func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("default config is valid", prop.ForAll(
		func() bool {
			return !Validate(Default()).HasErrors()
		},
	))

	// Property: an extension is accepted exactly when it starts with a dot
	// followed by something.
	properties.Property("reverse extension validation", prop.ForAll(
		func(ext string) bool {
			cfg := Default()
			cfg.Sync.ReverseExtensions = []string{ext}
			valid := !Validate(cfg).HasErrors()
			return valid == (strings.HasPrefix(ext, ".") && len(ext) > 1)
		},
		gen.OneGenOf(
			gen.AlphaString(),
			gen.AlphaString().Map(func(s string) string { return "." + s }),
		),
	))

	properties.Property("publish requires an absolute url", prop.ForAll(
		func(use bool, host string) bool {
			cfg := Default()
			cfg.Publish.Use = use
			cfg.Publish.URL = "https://" + host + "/hook"
			valid := !Validate(cfg).HasErrors()
			return valid == (!use || host != "")
		},
		gen.Bool(),
		gen.RegexMatch(`^[a-z0-9.-]{0,20}$`),
	))

	properties.Property("timeouts must be positive", prop.ForAll(
		func(ms int64) bool {
			cfg := Default()
			cfg.Publish.Timeout = time.Duration(ms) * time.Millisecond
			return Validate(cfg).HasErrors() == (ms <= 0)
		},
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}
