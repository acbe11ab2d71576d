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
	"errors"
	"syscall"

	"wbkfs/internal/common"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT       = syscall.ENOENT       // No such file or directory
	EEXIST       = syscall.EEXIST       // File exists
	ENOTDIR      = syscall.ENOTDIR      // Not a directory
	EISDIR       = syscall.EISDIR       // Is a directory
	EBADF        = syscall.EBADF        // Bad file descriptor
	EINVAL       = syscall.EINVAL       // Invalid argument
	ENOTSUP      = syscall.ENOTSUP      // Operation not supported
	ENOSPC       = syscall.ENOSPC       // No space left on device
	EIO          = syscall.EIO          // I/O error
	EPERM        = syscall.EPERM        // Operation not permitted
	EFBIG        = syscall.EFBIG        // File too large
	ENAMETOOLONG = syscall.ENAMETOOLONG // File name too long
	ENOTEMPTY    = syscall.ENOTEMPTY    // Directory not empty
)

// errnoTable is checked in order; ErrNameTooLong must precede
// ErrInvalidArgument since it wraps it.
var errnoTable = []struct {
	err   error
	errno syscall.Errno
}{
	{common.ErrBackupUnavailable, EIO},
	{common.ErrNotFound, ENOENT},
	{common.ErrExists, EEXIST},
	{common.ErrContentTooLarge, EFBIG},
	{common.ErrOutOfResources, ENOSPC},
	{common.ErrNameTooLong, ENAMETOOLONG},
	{common.ErrInvalidArgument, EINVAL},
	{common.ErrNotDir, ENOTDIR},
	{common.ErrIsDir, EISDIR},
	{common.ErrNotEmpty, ENOTEMPTY},
	{common.ErrClosed, EIO},
}

// toErrno converts a storage or backup error into the errno returned to the
// host. Errors that already are errnos pass through.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	for _, e := range errnoTable {
		if errors.Is(err, e.err) {
			return e.errno
		}
	}
	return EIO
}
