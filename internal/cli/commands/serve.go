package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wbkfs/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the file server in the foreground",
	Long: `Runs the daemon in the foreground, logging to stderr.

Flags override the saved settings for this run only.

Examples:
  wbkfs serve --listen 127.0.0.1:2049 --logging debug
  wbkfs serve --max-buffers 1024 --metrics-addr 127.0.0.1:9100`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	addSettingsFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, err := applySettingsFlags(cmd.Flags(), settings); err != nil {
		return err
	}

	d := daemon.New()
	d.Settings = settings
	d.LogToStderr = true
	return d.Run()
}
