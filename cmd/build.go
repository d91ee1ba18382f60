package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/services"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build release zips and snippet import files",
	Long: `Build every plugin into a release zip and every snippet into a Code
Snippets import file, named after the package version. When publishing is
enabled the endpoint is told about each new version.

Examples:
  wpbuilder build                       # Build everything into build/
  wpbuilder build --output dist         # Build into dist/
  wpbuilder build --concurrency 8       # Build up to 8 packages at once`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("output", "o", "", "Output directory")
	buildCmd.Flags().Int("concurrency", 0, "Packages built at once per kind")
	bindFlags(buildCmd.Flags(), map[string]string{
		"output":      "build.dir",
		"concurrency": "build.concurrency",
	})
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := services.NewApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	result, err := services.NewBuildService(app).BuildAll(cmd.Context())
	for _, a := range result.Artifacts {
		rel, relErr := filepath.Rel(app.Root, a.Path)
		if relErr != nil {
			rel = a.Path
		}
		fmt.Fprintf(out, "%s %s %s %s\n", kindLabel(string(a.Kind)), titleStyle.Render(a.Title), a.Version, subtleStyle.Render(rel))
	}
	if err != nil {
		for _, e := range result.Errors {
			printError(cmd.ErrOrStderr(), "%v", e)
		}
		return fmt.Errorf("build failed for %d package(s)", len(result.Errors))
	}
	printSuccess(out, "Built %d artifact(s) in %s", len(result.Artifacts), result.Duration.Round(time.Millisecond))
	return nil
}
