package cmd

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/wsvideo/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit and build date of wsvideo together with the
versions of the media libraries it was built against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		info := version.GetInfo()
		if output != "text" {
			return writeOutput(cmd.OutOrStdout(), output, info)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, version.String())
		for _, name := range slices.Sorted(maps.Keys(info.Media)) {
			fmt.Fprintf(w, "  %s %s\n", name, info.Media[name])
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().StringP("output", "o", "text", "output format (text, yaml, json)")
	rootCmd.AddCommand(versionCmd)
}
