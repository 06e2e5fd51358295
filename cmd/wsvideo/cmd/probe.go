package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/wsvideo/internal/probe"
	"github.com/jmylchreest/wsvideo/internal/urlutil"
)

var probeCmd = &cobra.Command{
	Use:   "probe URL",
	Short: "Print the tracks of a stream",
	Long: `Connect to a stream, wait for its initialization segment and print the
track description. The command fails when the stream is not fragmented MP4.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().Duration("timeout", 10*time.Second, "time to wait for the initialization segment")
	probeCmd.Flags().StringP("output", "o", "yaml", "output format (yaml, json)")
	probeCmd.Flags().StringSlice("protocols", nil, "WebSocket subprotocols to offer")
	mustBindPFlag("websocket.protocols", probeCmd.Flags().Lookup("protocols"))
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := urlutil.ValidateStreamURL(args[0]); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	output, _ := cmd.Flags().GetString("output")

	res, err := probe.Run(cmd.Context(), args[0], probe.Options{
		Transport: transportOptions(cfg.WebSocket),
		Timeout:   timeout,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), output, res)
}
