package daemon

import (
	"fmt"
	"os"
	"strings"

	"wbkfs/internal/util"
)

// CleanupResult contains the result of a cleanup operation
type CleanupResult struct {
	CleanedPidFile bool    // Whether PID file was cleaned
	CleanedSocket  bool    // Whether socket file was cleaned
	Errors         []error // Any errors encountered
}

// CleanupStale removes the pid file and control socket left behind by a
// daemon that died without shutting down. Nothing is touched while a daemon
// answers on the socket.
func CleanupStale() *CleanupResult {
	result := &CleanupResult{}
	if IsDaemonRunning() {
		return result
	}

	if pid, err := GetPID(); err == nil && !util.IsProcessRunning(pid) {
		if err := os.Remove(PidPath()); err != nil && !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("remove pid file: %w", err))
		} else {
			result.CleanedPidFile = true
		}
	}

	if _, err := os.Stat(SocketPath()); err == nil {
		if err := os.Remove(SocketPath()); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("remove socket: %w", err))
		} else {
			result.CleanedSocket = true
		}
	}
	return result
}

// FormatCleanupResult formats a cleanup result for display
func FormatCleanupResult(result *CleanupResult) string {
	var parts []string
	if result.CleanedPidFile {
		parts = append(parts, "Cleaned up stale PID file")
	}
	if result.CleanedSocket {
		parts = append(parts, "Cleaned up stale socket file")
	}
	if len(result.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("Encountered %d error(s):", len(result.Errors)))
		for _, e := range result.Errors {
			parts = append(parts, "  - "+e.Error())
		}
	}
	if len(parts) == 0 {
		return "No cleanup needed"
	}
	return strings.Join(parts, "\n")
}
