package vfs

import "time"

// FileType is the kind of a node as seen by the protocol adapters.
type FileType int

const (
	FileTypeRegularFile FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

// FileAttrs is the read side of the attributes the NFS adapter consumes.
type FileAttrs interface {
	GetFileType() FileType
	GetSizeBytes() (uint64, bool)
	GetInodeNumber() uint64
	GetLastDataModificationTime() (time.Time, bool)
	GetUnixMode() (uint32, bool)
}

// DirEntry is one directory listing entry as consumed by the NFS adapter.
type DirEntry interface {
	GetFileType() FileType
	GetSizeBytes() (uint64, bool)
	GetInodeNumber() uint64
	GetUnixMode() (uint32, bool)
	GetLastDataModificationTime() (time.Time, bool)
}
