package commands

import (
	"context"

	"wbkfs/internal/daemon"
	"wbkfs/internal/util"
)

// StartDaemonIfNeeded starts the daemon in the background if not running.
// If notify is true, prints a message to inform the user.
// Returns nil if daemon is already running or successfully started.
func StartDaemonIfNeeded(notify bool) error {
	cfg := util.DefaultDaemonStartConfig()
	if !notify {
		cfg.Notify = nil
	}

	return util.StartDaemonIfNeeded(
		context.Background(),
		cfg,
		daemon.IsDaemonRunning,
		[]string{"daemon", "start", "--foreground"},
	)
}

// connectDaemon connects to a running daemon, retrying briefly while a
// freshly started one opens its socket.
func connectDaemon() (*daemon.Client, error) {
	return daemon.ConnectWithRetry(context.Background(), util.DaemonPollConfig().Timeout)
}
