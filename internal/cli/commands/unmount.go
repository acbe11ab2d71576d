package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"wbkfs/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount <mount-point>",
	Aliases: []string{"umount"},
	Short:   "Unmount the volume",
	Long:    `Unmounts a wbkfs mount point. The daemon and its volume keep running.`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUnmount,
}

func init() {
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	target, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if !daemon.IsMounted(target) {
		return fmt.Errorf("not mounted: %s", target)
	}
	if err := daemon.Unmount(target); err != nil {
		return err
	}
	fmt.Printf("Unmounted %s\n", target)
	return nil
}
