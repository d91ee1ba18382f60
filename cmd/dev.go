package cmd

import (
	"context"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/wpbuilder/internal/services"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"d", "watch"},
	Short:   "Sync plugins and snippets to the local WordPress installation",
	Long: `Copy every plugin into the server plugins directory, push every snippet
into the database and keep both up to date while files change. Compiled
translations written on the server are copied back into the project and the
server debug.log is mirrored into the project root.

Editing the configuration file restarts the sync with the new values. The
restart happens inside the running process, so dev keeps running and needs
no external supervisor to come back up.

Examples:
  wpbuilder dev                                  # Use server.root from .wpbuilder.yml
  WPBUILDER_SERVER_ROOT=/var/www/html wpbuilder dev`,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)

	devCmd.Flags().String("server", "", "Path of the WordPress installation (overrides server.root)")
	bindFlags(devCmd.Flags(), map[string]string{"server": "server.root"})
}

func runDev(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	reload := make(chan struct{}, 1)
	if viper.ConfigFileUsed() != "" {
		viper.OnConfigChange(func(fsnotify.Event) {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
		viper.WatchConfig()
	}

	for {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		runCtx, cancel := context.WithCancel(ctx)
		var restarted bool
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-reload:
				restarted = true
				cancel()
			case <-runCtx.Done():
			}
		}()

		err = services.NewDevService(cfg, logger).Run(runCtx)
		cancel()
		wg.Wait()
		if err != nil {
			return err
		}
		if !restarted || ctx.Err() != nil {
			return nil
		}
		logger.Info(ctx, "configuration changed, restarting", "file", viper.ConfigFileUsed())
	}
}
