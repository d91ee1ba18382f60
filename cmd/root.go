// Package cmd provides the command-line interface for wpbuilder.
//
// Configuration System:
//
//	Values are resolved with the following precedence:
//	1. Command-line flags (--config, --log-level) - highest priority
//	2. WPBUILDER_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (WPBUILDER_SERVER_ROOT, ...)
//	4. Configuration file (.wpbuilder.yml) - lowest priority
//
// Environment Variables:
//
//	WPBUILDER_CONFIG_FILE: Path to custom configuration file
//	WPBUILDER_SERVER_ROOT: Path of the local WordPress installation
//	WPBUILDER_PUBLISH_USE: Enable the publish notification
//	And every other key following the WPBUILDER_<SECTION>_<OPTION> pattern
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/wpbuilder/internal/config"
	"github.com/conneroisu/wpbuilder/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wpbuilder",
	Short: "Build and sync WordPress plugins and code snippets",
	Long: `wpbuilder keeps WordPress plugins and Code Snippets in a plain source
tree and turns them into what WordPress expects.

Key Features:
  • Release zips for plugins and Code Snippets import files
  • Live sync of plugins into a local WordPress installation
  • Hot update of snippets in the WordPress database
  • Compiled translations copied back into the project
  • Server debug.log mirrored into the project

Quick Start:
  wpbuilder init                  Initialize a new project
  wpbuilder dev                   Sync to the local server while editing
  wpbuilder build                 Build every release artifact
  wpbuilder list                  List plugins and snippets

Command Aliases (for faster typing):
  init (i), dev (d), build (b), list (l)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Commands stop when ctx is done.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .wpbuilder.yml, can also use WPBUILDER_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// initConfig selects the configuration file and enables the WPBUILDER_
// environment overrides. A missing file is not an error: every key has a
// default.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.FileName, ".yml"))
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig decodes and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger creates the process logger from the log section.
func newLogger(cfg *config.Config) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: "wpbuilder",
	})
}
