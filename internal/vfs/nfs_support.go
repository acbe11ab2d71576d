//go:build !smb

package vfs

import (
	"time"

	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
)

// NfsVfsHandle lets the NFS adapter hold handles without importing go-smb2.
type NfsVfsHandle = smbvfs.VfsHandle

type attrsWrapper struct {
	attrs *smbvfs.Attributes
}

func (w *attrsWrapper) GetFileType() FileType {
	switch w.attrs.GetFileType() {
	case smbvfs.FileTypeDirectory:
		return FileTypeDirectory
	case smbvfs.FileTypeSymlink:
		return FileTypeSymlink
	}
	return FileTypeRegularFile
}

func (w *attrsWrapper) GetSizeBytes() (uint64, bool) { return w.attrs.GetSizeBytes() }
func (w *attrsWrapper) GetInodeNumber() uint64       { return w.attrs.GetInodeNumber() }
func (w *attrsWrapper) GetUnixMode() (uint32, bool)  { return w.attrs.GetUnixMode() }
func (w *attrsWrapper) GetLastDataModificationTime() (time.Time, bool) {
	return w.attrs.GetLastDataModificationTime()
}

type dirInfoWrapper struct {
	info *smbvfs.DirInfo
}

func (w *dirInfoWrapper) GetFileType() FileType {
	switch w.info.GetFileType() {
	case smbvfs.FileTypeDirectory:
		return FileTypeDirectory
	case smbvfs.FileTypeSymlink:
		return FileTypeSymlink
	}
	return FileTypeRegularFile
}

func (w *dirInfoWrapper) GetSizeBytes() (uint64, bool) { return w.info.GetSizeBytes() }
func (w *dirInfoWrapper) GetInodeNumber() uint64       { return w.info.GetInodeNumber() }
func (w *dirInfoWrapper) GetUnixMode() (uint32, bool)  { return w.info.GetUnixMode() }
func (w *dirInfoWrapper) GetLastDataModificationTime() (time.Time, bool) {
	return w.info.GetLastDataModificationTime()
}

// WrapAttrs wraps *smbvfs.Attributes. Anything else yields nil.
func WrapAttrs(v any) FileAttrs {
	a, ok := v.(*smbvfs.Attributes)
	if !ok || a == nil {
		return nil
	}
	return &attrsWrapper{attrs: a}
}

// WrapDirInfo wraps *smbvfs.DirInfo. Anything else yields nil.
func WrapDirInfo(v any) DirEntry {
	d, ok := v.(*smbvfs.DirInfo)
	if !ok || d == nil {
		return nil
	}
	return &dirInfoWrapper{info: d}
}

// NewAttrsWithMode builds a SetAttr request that changes only the mode.
func NewAttrsWithMode(mode uint32) *smbvfs.Attributes {
	attrs := &smbvfs.Attributes{}
	attrs.SetUnixMode(mode)
	return attrs
}

// NewAttrsWithTimes builds a SetAttr request that changes only the times.
func NewAttrsWithTimes(atime, mtime time.Time) *smbvfs.Attributes {
	attrs := &smbvfs.Attributes{}
	attrs.SetAccessTime(atime)
	attrs.SetLastDataModificationTime(mtime)
	return attrs
}
