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

package storage

// BufferCapacity is the fixed size of every content buffer, and therefore
// the largest file or symlink target the volume can hold.
const BufferCapacity = 4096

// BlockSize is the block size reported to statfs callers.
const BlockSize = 1024

// Magic identifies a wbkfs volume in statfs output.
const Magic = 0xDE5AF105

// File mode constants (POSIX)
const (
	ModeDir     = 0040000 // Directory
	ModeFile    = 0100000 // Regular file
	ModeSymlink = 0120000 // Symbolic link
	ModeMask    = 0170000 // Type mask
)

// Default permissions
const (
	DefaultDirMode     = ModeDir | 0755     // rwxr-xr-x
	DefaultFileMode    = ModeFile | 0644    // rw-r--r--
	DefaultSymlinkMode = ModeSymlink | 0777 // rwxrwxrwx
)

// RootIno is the inode number of the root directory. It is the first id the
// node table hands out.
const RootIno = 1

// Backup naming. A shadow of NAME is stored as ".NAME.BKP" in the same
// directory.
const (
	BackupPrefix = "."
	BackupSuffix = ".BKP"

	// BackupDecorationLen is the number of bytes BackupName adds to a name.
	BackupDecorationLen = len(BackupPrefix) + len(BackupSuffix)
)
