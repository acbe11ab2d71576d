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

package daemon

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// unmountTimeout bounds each unmount attempt. A soft NFS mount whose server
// is gone can block umount until the client gives up.
const unmountTimeout = 3 * time.Second

// unmountCommands lists the commands tried in order, most graceful first.
func unmountCommands(mountPoint string) [][]string {
	switch runtime.GOOS {
	case "darwin":
		return [][]string{
			{"diskutil", "unmount", mountPoint},
			{"umount", mountPoint},
			{"umount", "-f", mountPoint},
		}
	default:
		return [][]string{
			{"umount", mountPoint},
			{"umount", "-f", mountPoint},
			{"umount", "-l", mountPoint},
		}
	}
}

// Unmount unmounts mountPoint, escalating to a forced unmount. Unmounting a
// path that is not mounted is a no-op.
func Unmount(mountPoint string) error {
	if !IsMounted(mountPoint) {
		log.Debugf("[Mount] %s is not mounted", mountPoint)
		return nil
	}

	var lastErr error
	for _, args := range unmountCommands(mountPoint) {
		ctx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
		output, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
		cancel()
		if err == nil {
			log.Infof("[Mount] %s succeeded for %s", strings.Join(args[:len(args)-1], " "), mountPoint)
			return nil
		}
		log.Warnf("[Mount] %s failed: %v: %s", strings.Join(args[:len(args)-1], " "), err, strings.TrimSpace(string(output)))
		lastErr = err
	}
	return fmt.Errorf("all unmount attempts failed for %s: %w", mountPoint, lastErr)
}

// IsMounted checks the mount table for mountPoint
func IsMounted(mountPoint string) bool {
	output, err := exec.Command("mount").Output()
	if err != nil {
		return false
	}
	// On macOS /tmp is /private/tmp in the mount table.
	realPath, err := filepath.EvalSymlinks(mountPoint)
	if err != nil {
		realPath = mountPoint
	}
	return containsMount(string(output), realPath)
}

// containsMount reports whether mount(8) output lists mountPoint. Lines
// look like "server:/ on /mount/point type nfs (...)" or
// "server:/ on /mount/point (nfs, ...)".
func containsMount(mountOutput, mountPoint string) bool {
	scanner := bufio.NewScanner(strings.NewReader(mountOutput))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, " on "+mountPoint+" ") || strings.HasSuffix(line, " on "+mountPoint) {
			return true
		}
	}
	return false
}
