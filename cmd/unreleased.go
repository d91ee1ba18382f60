package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/services"
)

var sinceUnreleasedCmd = &cobra.Command{
	Use:   "since-unreleased",
	Short: "Replace @unreleased tags with the package version",
	Long: `Rewrite every "@unreleased" doc tag of each plugin and snippet into
"@since <version>", using the version of the package main file header. Run
it right after bumping a version.

Examples:
  wpbuilder since-unreleased`,
	Args: cobra.NoArgs,
	RunE: runSinceUnreleased,
}

func init() {
	rootCmd.AddCommand(sinceUnreleasedCmd)
}

func runSinceUnreleased(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := services.NewApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	tagged, err := services.SinceUnreleased(cmd.Context(), app)
	out := cmd.OutOrStdout()
	for _, t := range tagged {
		fmt.Fprintf(out, "%s %s\n", kindLabel(string(t.Package.Kind)), titleStyle.Render(t.Package.Slug))
		for _, f := range t.Files {
			rel, relErr := filepath.Rel(app.Root, f)
			if relErr != nil {
				rel = f
			}
			fmt.Fprintln(out, subtleStyle.Render("  "+rel))
		}
	}
	if err != nil {
		return err
	}
	if len(tagged) == 0 {
		fmt.Fprintln(out, subtleStyle.Render("No @unreleased tags found"))
	}
	return nil
}
