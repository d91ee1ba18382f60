package cmd

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/services"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Initialize a wpbuilder project",
	Long: `Create the plugin and snippet source directories, a .wpbuilder.yml with
the default settings and the .gitignore entries of generated files. An
existing configuration file is left untouched, so running init again only
adds what is missing.

Examples:
  wpbuilder init                                   # Initialize the current directory
  wpbuilder init my-site --server /var/www/html    # Point at a local WordPress
  wpbuilder init --interactive                     # Answer a few questions first`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().String("server", "", "Path of the local WordPress installation")
	initCmd.Flags().String("publish-url", "", "Endpoint notified about new versions")
	initCmd.Flags().String("publish-auth", "", "Secret path segment of the publish endpoint")
	initCmd.Flags().BoolP("interactive", "I", false, "Prompt for the settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	opts := services.InitOptions{ProjectDir: "."}
	if len(args) == 1 {
		opts.ProjectDir = args[0]
	}
	opts.ServerRoot, _ = cmd.Flags().GetString("server")
	opts.PublishURL, _ = cmd.Flags().GetString("publish-url")
	opts.PublishAuth, _ = cmd.Flags().GetString("publish-auth")
	opts.Publish = opts.PublishURL != ""

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		if err := promptInit(&opts); err != nil {
			return err
		}
	}
	if opts.ServerRoot != "" {
		abs, err := filepath.Abs(opts.ServerRoot)
		if err != nil {
			return fmt.Errorf("failed to resolve server root: %w", err)
		}
		opts.ServerRoot = abs
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	result, err := services.NewInitService(afero.NewOsFs(), newLogger(cfg)).Init(cmd.Context(), opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, dir := range result.Directories {
		fmt.Fprintln(out, subtleStyle.Render("dir  "+dir))
	}
	if result.ConfigCreated {
		printSuccess(out, "Created %s", result.ConfigPath)
	} else {
		printWarning(out, "%s already exists, left unchanged", result.ConfigPath)
	}
	for _, line := range result.Ignored {
		fmt.Fprintln(out, subtleStyle.Render("ignore "+line))
	}
	return nil
}

// promptInit asks for the settings not given as flags.
func promptInit(opts *services.InitOptions) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("WordPress installation").
				Description("Directory holding wp-config.php, used by wpbuilder dev").
				Placeholder("/var/www/html").
				Value(&opts.ServerRoot),
			huh.NewConfirm().
				Title("Publish new versions").
				Description("Notify an endpoint after each build and hot update").
				Value(&opts.Publish),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Publish URL").
				Value(&opts.PublishURL).
				Validate(func(s string) error {
					u, err := url.Parse(strings.TrimSpace(s))
					if err != nil || u.Scheme == "" || u.Host == "" {
						return fmt.Errorf("an absolute URL is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Publish auth").
				Value(&opts.PublishAuth),
		).WithHideFunc(func() bool { return !opts.Publish }),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("init prompt: %w", err)
	}
	opts.ServerRoot = strings.TrimSpace(opts.ServerRoot)
	opts.PublishURL = strings.TrimSpace(opts.PublishURL)
	return nil
}
