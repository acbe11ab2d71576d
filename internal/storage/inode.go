package storage

import "time"

// Kind is the type of a filesystem node. It never changes after allocation.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindRegular
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// KindOf derives the node kind from the type bits of mode.
func KindOf(mode uint32) Kind {
	switch mode & ModeMask {
	case ModeFile:
		return KindRegular
	case ModeDir:
		return KindDirectory
	case ModeSymlink:
		return KindSymlink
	default:
		return KindUnknown
	}
}

// hasContent reports whether nodes of this kind own a content buffer.
func (k Kind) hasContent() bool {
	return k == KindRegular || k == KindSymlink
}

// Inode represents file/directory metadata. Values returned by Volume are
// snapshots; mutate through Volume methods.
type Inode struct {
	Ino   uint64
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Nlink int32

	content *ContentBuffer
	dir     *dirEntries
}

// Kind returns the node kind
func (i *Inode) Kind() Kind {
	return KindOf(i.Mode)
}

// IsDir returns true if the inode is a directory
func (i *Inode) IsDir() bool {
	return i.Mode&ModeMask == ModeDir
}

// IsFile returns true if the inode is a regular file
func (i *Inode) IsFile() bool {
	return i.Mode&ModeMask == ModeFile
}

// IsSymlink returns true if the inode is a symbolic link
func (i *Inode) IsSymlink() bool {
	return i.Mode&ModeMask == ModeSymlink
}

// Permissions returns the permission bits
func (i *Inode) Permissions() uint32 {
	return i.Mode & 0777
}

// snapshot copies the exported fields of i.
func (i *Inode) snapshot() *Inode {
	cp := *i
	cp.content = nil
	cp.dir = nil
	return &cp
}

// Dentry represents a directory entry
type Dentry struct {
	ParentIno uint64
	Name      string
	Ino       uint64
}

// DirEntry represents a directory entry with full info for listing
type DirEntry struct {
	Name  string
	Ino   uint64
	Mode  uint32
	Size  int64
	Mtime time.Time
}

// InodeUpdate represents fields to update on an inode. The type bits of Mode
// are ignored.
type InodeUpdate struct {
	Mode  *uint32
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// Stats summarizes volume usage.
type Stats struct {
	Nodes        int    `json:"nodes"`
	BuffersInUse int    `json:"buffers_in_use"`
	BufferLimit  int    `json:"buffer_limit"`
	NextIno      uint64 `json:"next_ino"`
}
