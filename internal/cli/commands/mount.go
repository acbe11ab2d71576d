// Copyright 2024 WbkFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/cobra"

	"wbkfs/internal/daemon"
	"wbkfs/internal/util"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount the volume with the host NFS client",
	Long: `Mounts the daemon's volume at the specified mount point.

The daemon will be started automatically if not running. The mount point
must be an empty directory; it is created when missing. Mounting usually
requires root.

Examples:
  sudo wbkfs mount /mnt/wbkfs`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

func init() {
	rootCmd.AddCommand(mountCmd)
}

func runMount(cmd *cobra.Command, args []string) error {
	absMountPoint, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if daemon.IsMounted(absMountPoint) {
		return fmt.Errorf("already mounted: %s", absMountPoint)
	}
	if err := checkMountTarget(absMountPoint); err != nil {
		return err
	}

	if err := StartDaemonIfNeeded(true); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	client, err := connectDaemon()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	resp, err := client.Status()
	client.Close()
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	if resp.Server == nil {
		return fmt.Errorf("daemon reported no file server")
	}

	host, port, err := splitHostPort(resp.Server.ListenAddr)
	if err != nil {
		return err
	}
	// The server may still be settling right after an auto-start.
	err = util.Retry(context.Background(), func() error {
		return daemon.MountNetFS(host, port, resp.Server.ShareName, absMountPoint)
	}, retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true))
	if err != nil {
		return err
	}
	fmt.Printf("Mounted %s (%s %s:%d)\n", absMountPoint, resp.Server.Protocol, host, port)
	return nil
}

// checkMountTarget requires an empty directory, creating it when missing.
func checkMountTarget(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("target exists and is not a directory: %s", path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("failed to read target directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("target directory is not empty: %s", path)
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid port in listen address %q", addr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
