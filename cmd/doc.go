package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/services"
)

var docCmd = &cobra.Command{
	Use:   "doc <slug>",
	Short: "Show the documentation of a package",
	Long: `Render the README.md of a plugin or snippet in the terminal, or print the
HTML page shipped in its build artifact.

Examples:
  wpbuilder doc hello-dolly           # Render in the terminal
  wpbuilder doc footer-note --html    # HTML with the version banner`,
	Args: cobra.ExactArgs(1),
	RunE: runDoc,
}

func init() {
	rootCmd.AddCommand(docCmd)

	docCmd.Flags().Bool("html", false, "Print the rendered HTML")
	docCmd.Flags().Int("width", 0, "Wrap width (default is the terminal width)")
}

func runDoc(cmd *cobra.Command, args []string) error {
	slug := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := services.NewApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	repo, err := findPackage(app, slug)
	if err != nil {
		return err
	}
	markdown, err := repo.Markdown(slug)
	if err != nil {
		return err
	}
	if markdown == nil {
		printWarning(cmd.ErrOrStderr(), "%s has no %s", slug, packages.DocFile)
		return nil
	}

	out := cmd.OutOrStdout()
	if asHTML, _ := cmd.Flags().GetBool("html"); asHTML {
		version, err := repo.Version(slug)
		if err != nil {
			return err
		}
		doc, _, err := repo.Doc(slug, version)
		if err != nil {
			return err
		}
		_, err = out.Write(doc)
		return err
	}

	width, _ := cmd.Flags().GetInt("width")
	if width <= 0 {
		width = terminalWidth(defaultMarkdownWidth)
	}
	rendered, err := renderMarkdown(string(markdown), width)
	if err != nil {
		return fmt.Errorf("render %s: %w", packages.DocFile, err)
	}
	fmt.Fprintln(out, rendered)
	return nil
}

// findPackage returns the repository holding slug, plugins first.
func findPackage(app *services.App, slug string) (*packages.Repository, error) {
	for _, repo := range []*packages.Repository{app.Plugins, app.Snippets} {
		if _, err := repo.Get(slug); err == nil {
			return repo, nil
		}
	}
	return nil, fmt.Errorf("no plugin or snippet named %q", slug)
}
