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
	"time"
)

const (
	pollTimeout  = 5 * time.Second
	pollInterval = 50 * time.Millisecond
)

// PollConfig bounds a wait. Zero fields fall back to 5s and 50ms.
type PollConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DaemonPollConfig is used while a freshly spawned wbkfsd binds its socket.
func DaemonPollConfig() PollConfig {
	return PollConfig{Timeout: pollTimeout, Interval: pollInterval / 2}
}

func (c PollConfig) orDefaults() PollConfig {
	if c.Timeout <= 0 {
		c.Timeout = pollTimeout
	}
	if c.Interval <= 0 {
		c.Interval = pollInterval
	}
	return c
}

// PollUntil returns nil once condition holds, or the context error when
// ctx ends or cfg.Timeout elapses first.
func PollUntil(ctx context.Context, cfg PollConfig, condition func() bool) error {
	cfg = cfg.orDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return poll(ctx, cfg.Interval, condition)
}

// WaitWithDeadline is PollUntil for callers that hold a wall-clock deadline
// and no context. It reports whether condition held in time.
func WaitWithDeadline(deadline time.Time, interval time.Duration, condition func() bool) bool {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return poll(ctx, PollConfig{Interval: interval}.orDefaults().Interval, condition) == nil
}

// poll always evaluates condition at least once, even on a dead context.
func poll(ctx context.Context, interval time.Duration, condition func() bool) error {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			timer.Reset(interval)
		}
	}
}
