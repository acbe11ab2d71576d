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

package vfs

import (
	"fmt"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"wbkfs/internal/common"
	"wbkfs/internal/metrics"
	"wbkfs/internal/storage"
)

// BackupResult describes what Prepare did.
type BackupResult struct {
	// Action is one of the metrics.Backup* values, or "" when the node
	// is not a regular file.
	Action string
	// ShadowIno is the shadow node that was created or refreshed (0 if none).
	ShadowIno uint64
}

// BackupCoordinator runs the write-time backup protocol: before a regular
// file is mutated, its current content is copied into ".NAME.BKP" in the
// same directory. The shadow holds exactly one generation.
//
// Callers must hold the filesystem write lock across Prepare and the
// mutation that follows it.
type BackupCoordinator struct {
	vol      *storage.Volume
	excludes *ignore.GitIgnore
	metrics  *metrics.Metrics
}

// NewBackupCoordinator creates a coordinator. excludes are gitignore-style
// patterns matched against volume paths; matching files are never backed up.
func NewBackupCoordinator(vol *storage.Volume, excludes []string, m *metrics.Metrics) *BackupCoordinator {
	var matcher *ignore.GitIgnore
	if len(excludes) > 0 {
		matcher = ignore.CompileIgnoreLines(excludes...)
	}
	return &BackupCoordinator{vol: vol, excludes: matcher, metrics: m}
}

// Excluded reports whether path matches a backup exclusion pattern.
func (b *BackupCoordinator) Excluded(path string) bool {
	return b.excludes != nil && b.excludes.MatchesPath(path)
}

// Prepare backs up target, bound as name in parentIno, before it is
// overwritten. Any error wraps common.ErrBackupUnavailable and means the
// mutation must not proceed.
func (b *BackupCoordinator) Prepare(parentIno uint64, name, path string, target *storage.Inode) (BackupResult, error) {
	if !target.IsFile() {
		return BackupResult{}, nil
	}
	res, err := b.prepare(parentIno, name, path, target)
	if err != nil {
		b.metrics.RecordBackup(metrics.BackupFailed)
		log.Warnf("[Backup] %q: %v", path, err)
		return BackupResult{Action: metrics.BackupFailed}, err
	}
	b.metrics.RecordBackup(res.Action)
	log.Debugf("[Backup] %q: %s (shadow ino=%d, %d bytes)", path, res.Action, res.ShadowIno, target.Size)
	return res, nil
}

func (b *BackupCoordinator) prepare(parentIno uint64, name, path string, target *storage.Inode) (BackupResult, error) {
	switch {
	case storage.IsBackupName(name):
		return BackupResult{Action: metrics.BackupSkippedSuffix}, nil
	case b.Excluded(path):
		return BackupResult{Action: metrics.BackupSkippedExcluded}, nil
	}

	// The name must still refer to target; otherwise the shadow would be
	// bound to the wrong file.
	dentry, err := b.vol.Lookup(parentIno, name)
	if err != nil {
		return BackupResult{}, fmt.Errorf("%w: %q: %w", common.ErrBackupUnavailable, name, err)
	}
	if dentry.Ino != target.Ino {
		return BackupResult{}, fmt.Errorf("%w: %q no longer refers to inode %d", common.ErrBackupUnavailable, name, target.Ino)
	}

	shadowName := storage.BackupName(name)
	action := metrics.BackupRefreshed
	_, shadow, err := b.vol.LookupWithInode(parentIno, shadowName)
	switch {
	case common.IsNotFound(err):
		shadow, err = b.vol.Create(parentIno, shadowName, target.Permissions())
		if err != nil {
			return BackupResult{}, fmt.Errorf("%w: create %q: %w", common.ErrBackupUnavailable, shadowName, err)
		}
		action = metrics.BackupCreated
	case err != nil:
		return BackupResult{}, fmt.Errorf("%w: lookup %q: %w", common.ErrBackupUnavailable, shadowName, err)
	case shadow.Ino == target.Ino:
		return BackupResult{}, fmt.Errorf("%w: %q is a link to its own source", common.ErrBackupUnavailable, shadowName)
	case !shadow.IsFile():
		return BackupResult{}, fmt.Errorf("%w: %q is a %s: %w", common.ErrBackupUnavailable, shadowName, shadow.Kind(), common.ErrExists)
	}

	if err := b.vol.CopyContent(shadow.Ino, target.Ino); err != nil {
		if action == metrics.BackupCreated {
			_ = b.vol.Unlink(parentIno, shadowName)
		}
		return BackupResult{}, fmt.Errorf("%w: copy into %q: %w", common.ErrBackupUnavailable, shadowName, err)
	}
	return BackupResult{Action: action, ShadowIno: shadow.Ino}, nil
}

// RestoreSource returns the content of the shadow of name in parentIno.
func (b *BackupCoordinator) RestoreSource(parentIno uint64, name string) ([]byte, error) {
	if storage.IsBackupName(name) {
		return nil, fmt.Errorf("%w: %q is itself a backup", common.ErrInvalidArgument, name)
	}
	_, shadow, err := b.vol.LookupWithInode(parentIno, storage.BackupName(name))
	if err != nil {
		return nil, err
	}
	if !shadow.IsFile() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidArgument, storage.BackupName(name))
	}
	return b.vol.ReadContent(shadow.Ino, 0, int(shadow.Size))
}
