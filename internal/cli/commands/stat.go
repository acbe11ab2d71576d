package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"wbkfs/internal/daemon"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Show volume statistics",
	Args:  cobra.NoArgs,
	RunE:  runStat,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <path>",
	Short: "Restore a file from its backup",
	Long: `Writes the content of ".NAME.BKP" back into NAME. The content being
replaced becomes the new backup, so running restore twice swaps back.

The path is relative to the volume root.

Examples:
  wbkfs restore /notes.txt
  wbkfs restore docs/report.md`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		return fmt.Errorf("daemon is not running")
	}
	client, err := connectDaemon()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	stats, err := client.Stats()
	if err != nil {
		return err
	}
	limit := "unlimited"
	if stats.BufferLimit > 0 {
		limit = fmt.Sprint(stats.BufferLimit)
	}
	fmt.Printf("Nodes: %d\n", stats.Nodes)
	fmt.Printf("Buffers in use: %d / %s\n", stats.BuffersInUse, limit)
	fmt.Printf("Next inode: %d\n", stats.NextIno)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		return fmt.Errorf("daemon is not running")
	}
	client, err := connectDaemon()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	n, err := client.Restore(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Restored %s (%d bytes)\n", args[0], n)
	return nil
}
