package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/packages"
	"github.com/conneroisu/wpbuilder/internal/services"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"l", "ls"},
	Short:   "List plugins and snippets",
	Long: `List the packages of the project with their title and version.

Examples:
  wpbuilder list                    # Table of every package
  wpbuilder list --kind snippet     # Snippets only
  wpbuilder list --format json      # Machine readable output`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	listCmd.Flags().StringP("kind", "k", "", "Only list plugins or snippets")
}

type packageInfo struct {
	Kind    packages.Kind `json:"kind"`
	Slug    string        `json:"slug"`
	Title   string        `json:"title"`
	Version string        `json:"version"`
	Error   string        `json:"error,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	kind, _ := cmd.Flags().GetString("kind")
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported format: %s (supported: table, json)", format)
	}
	if kind != "" && kind != string(packages.KindPlugin) && kind != string(packages.KindSnippet) {
		return fmt.Errorf("unsupported kind: %s (supported: plugin, snippet)", kind)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := services.NewApp(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()

	infos, err := collectPackages(cmd.Context(), app, packages.Kind(kind))
	if err != nil {
		return err
	}
	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	printPackages(cmd.OutOrStdout(), infos)
	return nil
}

// collectPackages describes the packages of kind, or of both kinds when
// kind is empty.
func collectPackages(ctx context.Context, app *services.App, kind packages.Kind) ([]packageInfo, error) {
	var infos []packageInfo
	for _, repo := range []*packages.Repository{app.Plugins, app.Snippets} {
		if kind != "" && repo.Kind() != kind {
			continue
		}
		list, err := repo.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range list {
			info := packageInfo{Kind: p.Kind, Slug: p.Slug, Title: repo.Title(p.Slug)}
			if v, err := repo.Version(p.Slug); err != nil {
				info.Error = err.Error()
			} else {
				info.Version = v
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func printPackages(w io.Writer, infos []packageInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No packages found"))
		return
	}
	width := 0
	for _, info := range infos {
		width = max(width, len(info.Slug))
	}
	for _, info := range infos {
		version := info.Version
		if info.Error != "" {
			version = errorStyle.Render(info.Error)
		}
		fmt.Fprintf(w, "%-8s %-*s %s %s\n", info.Kind, width, info.Slug, titleStyle.Render(info.Title), subtleStyle.Render(version))
	}
	fmt.Fprintf(w, "\n%d package(s)\n", len(infos))
}
