package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/wpbuilder/internal/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for wpbuilder including the version, git
commit, build time, Go version and target platform.

Examples:
  wpbuilder version               # Show version and commit
  wpbuilder version --detailed    # Show detailed version info
  wpbuilder version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringP("format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	detailed, _ := cmd.Flags().GetBool("detailed")
	info := version.Get()
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
		if detailed {
			fmt.Fprintln(out, info.Detailed())
		} else {
			fmt.Fprintln(out, "wpbuilder "+info.Short())
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}
