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

package util

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DaemonStartConfig configures daemon start behavior.
type DaemonStartConfig struct {
	Notify     io.Writer  // Progress messages; nil is silent
	PollConfig PollConfig // Polling config for waiting
}

// DefaultDaemonStartConfig reports progress on stderr.
func DefaultDaemonStartConfig() DaemonStartConfig {
	return DaemonStartConfig{
		Notify:     os.Stderr,
		PollConfig: DaemonPollConfig(),
	}
}

// StartDaemonIfNeeded re-executes the current binary with startArgs unless
// isRunning already reports true, then waits for isRunning.
func StartDaemonIfNeeded(ctx context.Context, cfg DaemonStartConfig, isRunning func() bool, startArgs []string) error {
	if isRunning() {
		return nil
	}
	notify := cfg.Notify
	if notify == nil {
		notify = io.Discard
	}

	fmt.Fprint(notify, "Starting daemon...")
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintln(notify, " failed")
		return err
	}
	if _, err := StartBackgroundProcess(exe, startArgs, nil); err != nil {
		fmt.Fprintln(notify, " failed")
		return err
	}

	if err := PollUntil(ctx, cfg.PollConfig, isRunning); err != nil {
		fmt.Fprintln(notify, " timeout")
		return fmt.Errorf("daemon did not start in time")
	}
	fmt.Fprintln(notify, " done")
	return nil
}
