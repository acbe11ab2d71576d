package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"wbkfs/internal/daemon"
	"wbkfs/internal/util"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Daemon management commands",
	Long:  `Commands for controlling the wbkfs daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Starts the wbkfs daemon in the background.

The daemon holds the in-memory volume. Stopping it discards every file.`,
	Args: cobra.NoArgs,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stops the running wbkfs daemon. The volume content is lost.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure daemon settings",
	Long: `Configure persistent daemon settings.

Settings are stored in ~/.wbkfs/settings.yaml and take effect on next daemon start.

Examples:
  # Enable debug logging
  wbkfs daemon config --logging debug

  # Grow files on partial writes instead of replacing their content
  wbkfs daemon config --write-policy extend

  # Never back up build output
  wbkfs daemon config --exclude build --exclude '*.o'

  # Show current configuration
  wbkfs daemon config`,
	Args: cobra.NoArgs,
	RunE: runDaemonConfig,
}

var (
	daemonForeground bool
	daemonRestart    bool
	configReset      bool
)

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForeground, "foreground", "f", false, "Run in foreground")
	daemonStartCmd.Flags().BoolVar(&daemonRestart, "restart", false, "Restart daemon if already running (no confirmation)")
	daemonConfigCmd.Flags().BoolVar(&configReset, "reset", false, "Restore default settings")
	addSettingsFlags(daemonConfigCmd.Flags())

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonConfigCmd)
	rootCmd.AddCommand(daemonCmd)
}

// addSettingsFlags registers one flag per GlobalSettings field. Values are
// only applied when the flag is set, see applySettingsFlags.
func addSettingsFlags(fs *pflag.FlagSet) {
	fs.String("logging", "", "Log level: trace, debug, info, warn, none")
	fs.String("listen", "", "NFS/SMB listen address (host:port)")
	fs.String("share", "", "Export or share name")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address; empty disables")
	fs.Int("max-buffers", 0, "Maximum number of file content buffers; 0 = unlimited")
	fs.String("write-policy", "", "How writes change the file size: replace, extend")
	fs.StringSlice("exclude", nil, "Gitignore-style pattern of files written without a backup (repeatable)")
	fs.Int("attr-cache-ttl-ms", 0, "Attribute cache TTL in milliseconds; negative disables")
}

// applySettingsFlags copies every changed settings flag into s and reports
// whether anything changed.
func applySettingsFlags(fs *pflag.FlagSet, s *daemon.GlobalSettings) (bool, error) {
	changed := false
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "logging":
			s.LogLevel = strings.ToLower(f.Value.String())
			if s.LogLevel == "off" {
				s.LogLevel = "none"
			}
		case "listen":
			s.ListenAddr = f.Value.String()
		case "share":
			s.ShareName = f.Value.String()
		case "metrics-addr":
			s.MetricsAddr = f.Value.String()
		case "max-buffers":
			s.MaxBuffers, err = fs.GetInt(f.Name)
		case "write-policy":
			s.WritePolicy = strings.ToLower(f.Value.String())
		case "exclude":
			s.BackupExcludes, err = fs.GetStringSlice(f.Name)
		case "attr-cache-ttl-ms":
			s.AttrCacheTTLMs, err = fs.GetInt(f.Name)
		default:
			return
		}
		changed = true
	})
	if err != nil {
		return false, err
	}
	return changed, s.Validate()
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if daemon.IsDaemonRunning() {
		pid, _ := daemon.GetPID()
		if !daemonRestart {
			fmt.Printf("Daemon already running (PID %d)\n", pid)
			fmt.Println("Use --restart to restart the daemon")
			return nil
		}
		fmt.Printf("Daemon already running (PID %d), restarting...\n", pid)
		if err := stopDaemonAndWait(); err != nil {
			return fmt.Errorf("failed to stop daemon for restart: %w", err)
		}
	}

	if daemonForeground {
		return daemon.New().Run()
	}

	if err := StartDaemonIfNeeded(false); err != nil {
		return err
	}
	pid, _ := daemon.GetPID()
	fmt.Printf("Daemon started (PID %d)\n", pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon not running")
		daemon.CleanupStale()
		return nil
	}
	if err := stopDaemonAndWait(); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

// stopDaemonAndWait sends a stop request and waits for the daemon to exit,
// killing it when it does not stop in time.
func stopDaemonAndWait() error {
	pid, _ := daemon.GetPID()

	graceful := func() error {
		client, err := daemon.Connect()
		if err != nil {
			return err
		}
		defer client.Close()
		resp, err := client.Stop()
		if err != nil {
			return err
		}
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		return nil
	}

	err := util.StopProcess(context.Background(), pid, util.ProcessConfig{
		GracefulTimeout: 10 * time.Second,
		PollInterval:    25 * time.Millisecond,
	}, graceful, daemon.IsDaemonRunning)
	daemon.CleanupStale()
	return err
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !daemon.IsDaemonRunning() {
		fmt.Println("Daemon: not running")
		printSettings(settings)
		return nil
	}

	client, err := connectDaemon()
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer client.Close()

	resp, err := client.Status()
	if err != nil {
		return fmt.Errorf("status request failed: %w", err)
	}
	fmt.Printf("Daemon: running (PID %d)\n", resp.PID)
	if s := resp.Server; s != nil {
		fmt.Printf("Server: %s on %s (share %q)\n", s.Protocol, s.ListenAddr, s.ShareName)
		fmt.Printf("Session: %s\n", s.Session)
		fmt.Printf("Uptime: %s\n", time.Since(time.Unix(s.StartedAt, 0)).Round(time.Second))
		fmt.Printf("Open handles: %d\n", s.Handles)
	}
	printSettings(settings)
	return nil
}

func printSettings(s *daemon.GlobalSettings) {
	logLevel := s.LogLevel
	if logLevel == "" {
		logLevel = "none"
	}
	maxBuffers := "unlimited"
	if s.MaxBuffers > 0 {
		maxBuffers = fmt.Sprint(s.MaxBuffers)
	}
	metricsAddr := s.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = "disabled"
	}
	fmt.Printf("  Log level: %s\n", logLevel)
	fmt.Printf("  Listen address: %s\n", s.ListenAddr)
	fmt.Printf("  Share name: %s\n", s.ShareName)
	fmt.Printf("  Metrics: %s\n", metricsAddr)
	fmt.Printf("  Max buffers: %s\n", maxBuffers)
	fmt.Printf("  Write policy: %s\n", s.Policy())
	fmt.Printf("  Backup excludes: %s\n", strings.Join(s.BackupExcludes, ", "))
	fmt.Printf("  Attribute cache TTL: %s\n", s.AttrCacheTTL())
}

func runDaemonConfig(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadGlobalSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if configReset {
		if err := os.Remove(daemon.GlobalSettingsPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		if settings, err = daemon.LoadGlobalSettings(); err != nil {
			return err
		}
	}

	changed, err := applySettingsFlags(cmd.Flags(), settings)
	if err != nil {
		return err
	}
	if !changed && !configReset {
		fmt.Println("Current daemon configuration:")
		printSettings(settings)
		return nil
	}

	if err := daemon.SaveGlobalSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Println("Settings saved:")
	printSettings(settings)
	if daemon.IsDaemonRunning() {
		fmt.Println("Restart the daemon for the new settings to take effect:")
		fmt.Println("  wbkfs daemon start --restart")
	}
	return nil
}
