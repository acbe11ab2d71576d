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
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"wbkfs/internal/common"
	"wbkfs/internal/storage"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// recoverPanic recovers from panics in BackupFS operations so a bad request
// cannot take down the SMB or NFS server.
func recoverPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// traceOp logs and records the duration of an operation. Use as
// defer fs.traceOp("Write", time.Now(), &err).
func (fs *BackupFS) traceOp(operation string, start time.Time, err *error) {
	elapsed := time.Since(start)
	fs.metrics.ObserveOperation(operation, elapsed.Seconds())
	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[VFS] %s → %v (%v)", operation, *err, elapsed)
	}
}

// =============================================================================
// Cache Helpers
// =============================================================================

func (fs *BackupFS) invalidate(inos ...uint64) {
	if fs.attrCache != nil {
		fs.attrCache.InvalidateIno(inos...)
	}
}

// attrsForIno returns attributes for ino, from the cache when possible.
// Caller must hold fs.mu.
func (fs *BackupFS) attrsForIno(ino uint64) (*vfs.Attributes, error) {
	if fs.attrCache != nil {
		if cached := fs.attrCache.Get(ino); cached != nil {
			return cached, nil
		}
	}
	inode, err := fs.vol.GetInode(ino)
	if err != nil {
		return nil, err
	}
	attrs := inodeToAttributes(inode)
	if fs.attrCache != nil {
		fs.attrCache.Set(ino, attrs)
	}
	return attrs, nil
}

func (fs *BackupFS) updateUsage() {
	if fs.metrics == nil {
		return
	}
	st := fs.vol.Stats()
	fs.metrics.SetUsage(st.Nodes, st.BuffersInUse)
}

// =============================================================================
// Path Helpers
// =============================================================================

// resolveParent resolves the directory that will hold the last component of
// path and returns it with that component.
func (fs *BackupFS) resolveParent(path string) (parentIno uint64, name string, err error) {
	name = common.BaseName(path)
	if name == "" {
		return 0, "", common.ErrInvalidArgument
	}
	parentIno, err = fs.vol.ResolvePath(common.ParentPath(path))
	if err != nil {
		return 0, "", err
	}
	return parentIno, name, nil
}

// handleInfo returns the handle's info. Handle 0 addresses the root.
func (fs *BackupFS) handleInfo(handle vfs.VfsHandle) (openHandle, bool) {
	if handle == 0 {
		return openHandle{ino: storage.RootIno, parentIno: storage.RootIno, isDir: true}, true
	}
	return fs.handles.Get(HandleID(handle))
}

// =============================================================================
// Attribute Conversion
// =============================================================================

// inodeToAttributes converts a storage.Inode to vfs.Attributes
func inodeToAttributes(inode *storage.Inode) *vfs.Attributes {
	attrs := &vfs.Attributes{}

	attrs.SetFileHandle(vfs.VfsNode(inode.Ino))
	attrs.SetInodeNumber(inode.Ino)
	attrs.SetSizeBytes(uint64(inode.Size))
	attrs.SetLinkCount(uint32(inode.Nlink))
	attrs.SetUID(inode.Uid)
	attrs.SetGID(inode.Gid)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(inode.Mode))
	attrs.SetUnixMode(inode.Mode & 0777)
	attrs.SetLastDataModificationTime(inode.Mtime)
	attrs.SetLastStatusChangeTime(inode.Ctime)
	attrs.SetAccessTime(inode.Atime)
	attrs.SetBirthTime(inode.Ctime)
	attrs.SetChangeID(uint64(inode.Ctime.UnixNano()))

	switch inode.Mode & storage.ModeMask {
	case storage.ModeDir:
		attrs.SetFileType(vfs.FileTypeDirectory)
	case storage.ModeSymlink:
		attrs.SetFileType(vfs.FileTypeSymlink)
	default:
		attrs.SetFileType(vfs.FileTypeRegularFile)
	}

	return attrs
}

func dirEntryInfo(e storage.DirEntry) vfs.DirInfo {
	di := vfs.DirInfo{Name: e.Name}
	di.SetFileHandle(vfs.VfsNode(e.Ino))
	di.SetInodeNumber(e.Ino)
	di.SetSizeBytes(uint64(e.Size))
	di.SetLastDataModificationTime(e.Mtime)
	switch e.Mode & storage.ModeMask {
	case storage.ModeDir:
		di.SetFileType(vfs.FileTypeDirectory)
	case storage.ModeSymlink:
		di.SetFileType(vfs.FileTypeSymlink)
	default:
		di.SetFileType(vfs.FileTypeRegularFile)
	}
	di.SetPermissions(vfs.NewPermissionsFromMode(e.Mode))
	di.SetUnixMode(e.Mode & 0777)
	return di
}
