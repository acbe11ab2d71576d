package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"wbkfs/internal/cache"
	"wbkfs/internal/common"
	"wbkfs/internal/metrics"
	"wbkfs/internal/storage"
)

// DefaultAttrCacheTTL captures NFS GETATTR bursts.
const DefaultAttrCacheTTL = 30 * time.Millisecond

// attrCacheMaxEntries caps memory usage.
const attrCacheMaxEntries = 10000

// Options configures a BackupFS
type Options struct {
	// WritePolicy decides how writes change the file size.
	WritePolicy storage.WritePolicy
	// BackupExcludes are gitignore-style patterns for files that are
	// written without a backup.
	BackupExcludes []string
	// AttrCacheTTL is the attribute cache TTL; negative disables the cache.
	AttrCacheTTL time.Duration
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// BackupFS implements vfs.VFSFileSystem over an in-memory storage.Volume.
// Every mutation of a regular file first preserves its previous content in
// a ".NAME.BKP" sibling.
type BackupFS struct {
	mu        sync.RWMutex
	vol       *storage.Volume
	handles   *HandleManager
	backup    *BackupCoordinator
	attrCache *cache.AttrCache
	metrics   *metrics.Metrics
	policy    storage.WritePolicy
}

var _ vfs.VFSFileSystem = (*BackupFS)(nil)

// NewBackupFS creates a filesystem serving vol.
func NewBackupFS(vol *storage.Volume, opts Options) *BackupFS {
	fs := &BackupFS{
		vol:     vol,
		handles: NewHandleManager(),
		backup:  NewBackupCoordinator(vol, opts.BackupExcludes, opts.Metrics),
		metrics: opts.Metrics,
		policy:  opts.WritePolicy,
	}
	if opts.AttrCacheTTL >= 0 && !cache.Disabled {
		ttl := opts.AttrCacheTTL
		if ttl == 0 {
			ttl = DefaultAttrCacheTTL
		}
		fs.attrCache = cache.NewAttrCache(ttl, attrCacheMaxEntries)
	}
	fs.updateUsage()
	return fs
}

// Volume returns the underlying volume
func (fs *BackupFS) Volume() *storage.Volume {
	return fs.vol
}

// OpenHandles returns the number of open handles
func (fs *BackupFS) OpenHandles() int {
	return fs.handles.Len()
}

// ReleaseHandles drops every open handle and returns how many there were.
func (fs *BackupFS) ReleaseHandles() int {
	return fs.handles.Clear()
}

// LinkCount returns the link count of ino, or 1 if it cannot be read.
func (fs *BackupFS) LinkCount(ino uint64) uint32 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	inode, err := fs.vol.GetInode(ino)
	if err != nil {
		return 1
	}
	return uint32(inode.Nlink)
}

// --- File Operations ---
// All operations have panic recovery to prevent SMB server disconnections

// Open opens a file, creating it with O_CREATE. O_TRUNC on an existing file
// goes through the backup protocol like any other content change.
func (fs *BackupFS) Open(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverPanic("Open", &err)
	log.Debugf("[VFS] Open: path=%q flags=%d mode=%o", path, flags, mode)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = common.NormalizePath(path)
	ino, parentIno, name, err := fs.vol.ResolvePathWithParent(path)
	if err != nil {
		if common.IsNotFound(err) && flags&os.O_CREATE != 0 {
			return fs.createFile(path, flags, mode)
		}
		return 0, toErrno(err)
	}
	if flags&os.O_CREATE != 0 && flags&os.O_EXCL != 0 {
		return 0, EEXIST
	}

	inode, err := fs.vol.GetInode(ino)
	if err != nil {
		return 0, toErrno(err)
	}
	if inode.IsDir() {
		return 0, EISDIR
	}

	info := openHandle{ino: ino, parentIno: parentIno, name: name, path: path, flags: flags}
	if flags&os.O_TRUNC != 0 && inode.IsFile() && inode.Size > 0 {
		if err := fs.truncateLocked(info, 0); err != nil {
			return 0, toErrno(err)
		}
	}
	return vfs.VfsHandle(fs.handles.Allocate(info)), nil
}

// createFile creates an empty file and opens it. Caller must hold fs.mu.
func (fs *BackupFS) createFile(path string, flags int, mode int) (vfs.VfsHandle, error) {
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return 0, toErrno(err)
	}
	inode, err := fs.vol.Create(parentIno, name, uint32(mode)&0777)
	if err != nil {
		log.Debugf("[VFS] Open: create %q failed: %v", path, err)
		return 0, toErrno(err)
	}
	fs.invalidate(parentIno)
	fs.updateUsage()

	h := fs.handles.Allocate(openHandle{ino: inode.Ino, parentIno: parentIno, name: name, path: path, flags: flags})
	return vfs.VfsHandle(h), nil
}

// Close closes a file handle
func (fs *BackupFS) Close(handle vfs.VfsHandle) (err error) {
	defer recoverPanic("Close", &err)
	fs.handles.Release(HandleID(handle))
	return nil
}

// Read reads data from a file. Reading at or beyond the end returns 0 bytes
// and no error.
func (fs *BackupFS) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverPanic("Read", &err)
	defer fs.traceOp("Read", time.Now(), &err)

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}
	if offset >= storage.BufferCapacity {
		return 0, nil
	}

	data, err := fs.vol.ReadContent(info.ino, int64(offset), len(buf))
	if err != nil {
		return 0, toErrno(err)
	}
	return copy(buf, data), nil
}

// Write backs up the file and then writes buf at offset under the configured
// write policy. A write that does not fit the content buffer is rejected
// before any backup is taken.
func (fs *BackupFS) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverPanic("Write", &err)
	defer fs.traceOp("Write", time.Now(), &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	n, err = fs.writeLocked(info, buf, offset)
	return n, toErrno(err)
}

// writeLocked runs the backup protocol and applies the write. Caller must
// hold fs.mu for writing.
func (fs *BackupFS) writeLocked(info openHandle, buf []byte, offset uint64) (int, error) {
	if offset > storage.BufferCapacity || offset+uint64(len(buf)) > storage.BufferCapacity {
		fs.metrics.RecordWrite(metrics.WriteTooLarge, 0)
		return 0, fmt.Errorf("%w: %d bytes at offset %d", common.ErrContentTooLarge, len(buf), offset)
	}

	target, err := fs.vol.GetInode(info.ino)
	if err != nil {
		fs.metrics.RecordWrite(metrics.WriteError, 0)
		return 0, err
	}
	if !target.IsFile() {
		fs.metrics.RecordWrite(metrics.WriteError, 0)
		return 0, fmt.Errorf("%w: %q is a %s", common.ErrInvalidArgument, info.path, target.Kind())
	}

	res, err := fs.backup.Prepare(info.parentIno, info.name, info.path, target)
	if err != nil {
		fs.metrics.RecordWrite(metrics.WriteAborted, 0)
		return 0, err
	}
	if res.Action == metrics.BackupCreated {
		fs.invalidate(info.parentIno)
		fs.updateUsage()
	}

	n, err := fs.vol.WriteContent(info.ino, int64(offset), buf, fs.policy)
	fs.invalidate(info.ino, res.ShadowIno)
	if err != nil {
		fs.metrics.RecordWrite(metrics.WriteError, 0)
		return 0, err
	}
	fs.metrics.RecordWrite(metrics.WriteOK, n)
	return n, nil
}

// Truncate truncates a file. Shrinking a file backs it up first.
func (fs *BackupFS) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverPanic("Truncate", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if info.isDir {
		return EISDIR
	}
	return toErrno(fs.truncateLocked(info, size))
}

// truncateLocked changes the size of a file. Caller must hold fs.mu for
// writing.
func (fs *BackupFS) truncateLocked(info openHandle, size uint64) error {
	if size > storage.BufferCapacity {
		return fmt.Errorf("%w: size %d", common.ErrContentTooLarge, size)
	}
	target, err := fs.vol.GetInode(info.ino)
	if err != nil {
		return err
	}
	if int64(size) < target.Size {
		res, err := fs.backup.Prepare(info.parentIno, info.name, info.path, target)
		if err != nil {
			return err
		}
		if res.Action == metrics.BackupCreated {
			fs.invalidate(info.parentIno)
			fs.updateUsage()
		}
		fs.invalidate(res.ShadowIno)
	}
	if err := fs.vol.TruncateContent(info.ino, int64(size)); err != nil {
		return err
	}
	fs.invalidate(info.ino)
	return nil
}

// FSync is a no-op; content is volatile by design of the volume.
func (fs *BackupFS) FSync(handle vfs.VfsHandle) error {
	return nil
}

// Flush flushes file data
func (fs *BackupFS) Flush(handle vfs.VfsHandle) error {
	return nil
}

// --- Directory Operations ---

// Mkdir creates a directory
func (fs *BackupFS) Mkdir(path string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Mkdir", &err)
	log.Debugf("[VFS] Mkdir: path=%q mode=%o", path, mode)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = common.NormalizePath(path)
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return nil, toErrno(err)
	}
	inode, err := fs.vol.Mkdir(parentIno, name, uint32(mode)&0777)
	if err != nil {
		return nil, toErrno(err)
	}
	fs.invalidate(parentIno)
	fs.updateUsage()
	return inodeToAttributes(inode), nil
}

// OpenDir opens a directory
func (fs *BackupFS) OpenDir(path string) (handle vfs.VfsHandle, err error) {
	defer recoverPanic("OpenDir", &err)
	log.Debugf("[VFS] OpenDir: path=%q", path)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = common.NormalizePath(path)
	ino, parentIno, name, err := fs.vol.ResolvePathWithParent(path)
	if err != nil {
		return 0, toErrno(err)
	}
	inode, err := fs.vol.GetInode(ino)
	if err != nil {
		return 0, toErrno(err)
	}
	if !inode.IsDir() {
		return 0, ENOTDIR
	}

	h := fs.handles.Allocate(openHandle{ino: ino, parentIno: parentIno, name: name, path: path, isDir: true, flags: os.O_RDONLY})
	return vfs.VfsHandle(h), nil
}

// OpenAny opens a file or directory by path without truncating or creating.
func (fs *BackupFS) OpenAny(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverPanic("OpenAny", &err)
	log.Debugf("[VFS] OpenAny: path=%q flags=%d", path, flags)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = common.NormalizePath(path)
	ino, parentIno, name, err := fs.vol.ResolvePathWithParent(path)
	if err != nil {
		return 0, toErrno(err)
	}
	inode, err := fs.vol.GetInode(ino)
	if err != nil {
		return 0, toErrno(err)
	}

	info := openHandle{ino: ino, parentIno: parentIno, name: name, path: path, flags: flags}
	if inode.IsDir() {
		info.isDir = true
		info.flags = os.O_RDONLY
	}
	return vfs.VfsHandle(fs.handles.Allocate(info)), nil
}

// ReadDir returns directory entries, "." and ".." first, then children in
// creation order. count > 0 pages through the listing; io.EOF follows the
// last page.
func (fs *BackupFS) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer recoverPanic("ReadDir", &err)
	log.Debugf("[VFS] ReadDir: handle=%d offset=%d count=%d", handle, offset, count)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	id := HandleID(handle)
	info, ok := fs.handles.Get(id)
	if !ok {
		return nil, EBADF
	}
	if !info.isDir {
		return nil, ENOTDIR
	}

	// SMB2 protocol: offset > 0 (RESTART_SCANS) means restart enumeration
	if offset > 0 {
		fs.handles.SetDirEnumDone(id, false)
		info.dirEnumDone, info.dirPos = false, 0
	}
	if info.dirEnumDone {
		return nil, io.EOF
	}

	all, err := fs.listDirLocked(info.ino)
	if err != nil {
		return nil, toErrno(err)
	}

	start := min(info.dirPos, len(all))
	end := len(all)
	if count > 0 && start+count < end {
		end = start + count
	}
	if end == len(all) {
		fs.handles.SetDirEnumDone(id, true)
	}
	fs.handles.UpdateDirPos(id, end)
	return all[start:end], nil
}

func (fs *BackupFS) listDirLocked(dirIno uint64) ([]vfs.DirInfo, error) {
	dirAttrs, err := fs.attrsForIno(dirIno)
	if err != nil {
		return nil, err
	}
	parentIno, err := fs.vol.ParentOf(dirIno)
	if err != nil {
		return nil, err
	}
	parentAttrs, err := fs.attrsForIno(parentIno)
	if err != nil {
		return nil, err
	}
	children, err := fs.vol.ListDir(dirIno)
	if err != nil {
		return nil, err
	}

	all := make([]vfs.DirInfo, 0, len(children)+2)
	all = append(all,
		vfs.DirInfo{Name: ".", Attributes: *dirAttrs},
		vfs.DirInfo{Name: "..", Attributes: *parentAttrs},
	)
	for _, e := range children {
		all = append(all, dirEntryInfo(e))
	}
	return all, nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes
func (fs *BackupFS) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("GetAttr", &err)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, ok := fs.handleInfo(handle)
	if !ok {
		return nil, EBADF
	}
	attrs, err = fs.attrsForIno(info.ino)
	return attrs, toErrno(err)
}

// GetAttrByPath returns attributes for a path without opening a handle.
func (fs *BackupFS) GetAttrByPath(path string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("GetAttrByPath", &err)
	defer fs.traceOp("GetAttrByPath", time.Now(), &err)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ino, err := fs.vol.ResolvePath(common.NormalizePath(path))
	if err != nil {
		return nil, toErrno(err)
	}
	attrs, err = fs.attrsForIno(ino)
	return attrs, toErrno(err)
}

// SetAttr sets mode, size and times. A size change is a truncation and goes
// through the backup protocol.
func (fs *BackupFS) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("SetAttr", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handleInfo(handle)
	if !ok {
		return nil, EBADF
	}

	if size, ok := inAttrs.GetSizeBytes(); ok {
		if info.isDir {
			return nil, EISDIR
		}
		if err := fs.truncateLocked(info, size); err != nil {
			return nil, toErrno(err)
		}
	}

	updates := &storage.InodeUpdate{}
	if mode, ok := inAttrs.GetUnixMode(); ok {
		m := mode & 07777
		updates.Mode = &m
	}
	if mtime, ok := inAttrs.GetLastDataModificationTime(); ok {
		updates.Mtime = &mtime
	}
	if atime, ok := inAttrs.GetAccessTime(); ok {
		updates.Atime = &atime
	}
	if err := fs.vol.UpdateInode(info.ino, updates); err != nil {
		return nil, toErrno(err)
	}
	fs.invalidate(info.ino)

	inode, err := fs.vol.GetInode(info.ino)
	if err != nil {
		return nil, toErrno(err)
	}
	return inodeToAttributes(inode), nil
}

// Lookup finds a file in a directory. name may be a relative path.
func (fs *BackupFS) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: dirHandle=%d name=%q", dirHandle, name)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, ok := fs.handleInfo(dirHandle)
	if !ok {
		return nil, EBADF
	}
	if !info.isDir {
		return nil, ENOTDIR
	}

	ino := info.ino
	for _, part := range common.SplitPath(name) {
		dentry, err := fs.vol.Lookup(ino, part)
		if err != nil {
			return nil, toErrno(err)
		}
		ino = dentry.Ino
	}
	attrs, err = fs.attrsForIno(ino)
	return attrs, toErrno(err)
}

// StatFS reports capacity in 1 KiB blocks. Without a buffer limit the volume
// reports a nominal size.
func (fs *BackupFS) StatFS(handle vfs.VfsHandle) (*vfs.FSAttributes, error) {
	st := fs.vol.Stats()
	const blocksPerBuffer = storage.BufferCapacity / storage.BlockSize

	limit := st.BufferLimit
	if limit == 0 {
		limit = max(1<<20, st.BuffersInUse*2)
	}
	free := uint64(max(limit-st.BuffersInUse, 0))

	attrs := &vfs.FSAttributes{}
	attrs.SetBlockSize(storage.BlockSize)
	attrs.SetIOSize(storage.BufferCapacity)
	attrs.SetBlocks(uint64(limit) * blocksPerBuffer)
	attrs.SetFreeBlocks(free * blocksPerBuffer)
	attrs.SetAvailableBlocks(free * blocksPerBuffer)
	attrs.SetFiles(uint64(limit))
	attrs.SetFreeFiles(free)
	log.Tracef("[VFS] StatFS: magic=%#x nodes=%d buffers=%d/%d", storage.Magic, st.Nodes, st.BuffersInUse, st.BufferLimit)
	return attrs, nil
}

// --- File Management ---

// Unlink removes the name the handle was opened through. The shadow of a
// file is left in place.
func (fs *BackupFS) Unlink(handle vfs.VfsHandle) (err error) {
	defer recoverPanic("Unlink", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	log.Debugf("[VFS] Unlink: path=%q ino=%d", info.path, info.ino)

	dentry, err := fs.vol.Lookup(info.parentIno, info.name)
	if err != nil {
		return toErrno(err)
	}
	if dentry.Ino != info.ino {
		return ENOENT
	}
	return toErrno(fs.unlinkLocked(info.parentIno, info.name, info.ino))
}

// UnlinkByPath removes a file or empty directory by path.
func (fs *BackupFS) UnlinkByPath(path string) (err error) {
	defer recoverPanic("UnlinkByPath", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = common.NormalizePath(path)
	log.Debugf("[VFS] UnlinkByPath: path=%q", path)
	if path == "" {
		return EPERM
	}
	ino, parentIno, name, err := fs.vol.ResolvePathWithParent(path)
	if err != nil {
		return toErrno(err)
	}
	return toErrno(fs.unlinkLocked(parentIno, name, ino))
}

func (fs *BackupFS) unlinkLocked(parentIno uint64, name string, ino uint64) error {
	if err := fs.vol.Unlink(parentIno, name); err != nil {
		return err
	}
	fs.invalidate(ino, parentIno)
	fs.updateUsage()
	return nil
}

// Rename renames the entry behind handle. A newName containing a slash is a
// path from the volume root; otherwise it names an entry in the same
// directory.
func (fs *BackupFS) Rename(handle vfs.VfsHandle, newName string, flags int) (err error) {
	defer recoverPanic("Rename", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	newPath := common.JoinPath(common.ParentPath(info.path), newName)
	if containsSlash(newName) {
		newPath = common.NormalizePath(newName)
	}
	return toErrno(fs.renameLocked(info.parentIno, info.name, info.path, newPath))
}

// RenamePath moves oldPath to newPath, replacing a non-directory destination.
func (fs *BackupFS) RenamePath(oldPath, newPath string) (err error) {
	defer recoverPanic("RenamePath", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldPath = common.NormalizePath(oldPath)
	if oldPath == "" {
		return EPERM
	}
	srcParent, srcName, err := fs.resolveParent(oldPath)
	if err != nil {
		return toErrno(err)
	}
	return toErrno(fs.renameLocked(srcParent, srcName, oldPath, common.NormalizePath(newPath)))
}

func (fs *BackupFS) renameLocked(srcParent uint64, srcName, oldPath, newPath string) error {
	log.Debugf("[VFS] Rename: %q → %q", oldPath, newPath)
	dstParent, dstName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	src, err := fs.vol.Lookup(srcParent, srcName)
	if err != nil {
		return err
	}
	var replaced uint64
	if dst, err := fs.vol.Lookup(dstParent, dstName); err == nil {
		replaced = dst.Ino
	}

	if err := fs.vol.Rename(srcParent, srcName, dstParent, dstName); err != nil {
		return err
	}
	fs.handles.Rebind(srcParent, srcName, dstParent, dstName, newPath)
	fs.invalidate(src.Ino, srcParent, dstParent, replaced)
	fs.updateUsage()
	return nil
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

// --- Symbolic Link Operations ---

// Readlink reads a symbolic link target
func (fs *BackupFS) Readlink(handle vfs.VfsHandle) (target string, err error) {
	defer recoverPanic("Readlink", &err)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return "", EBADF
	}
	target, err = fs.vol.ReadSymlink(info.ino)
	return target, toErrno(err)
}

// Symlink turns the entry behind handle into a symbolic link to target.
// Node kinds never change, so the name is rebound to a new symlink node and
// the old node loses that link.
func (fs *BackupFS) Symlink(handle vfs.VfsHandle, target string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Symlink", &err)
	log.Debugf("[VFS] Symlink: handle=%d target=%q", handle, target)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := HandleID(handle)
	info, ok := fs.handles.Get(id)
	if !ok {
		return nil, EBADF
	}
	if info.isDir {
		return nil, EISDIR
	}

	old, err := fs.vol.GetInode(info.ino)
	if err != nil {
		return nil, toErrno(err)
	}
	if old.IsFile() && old.Size > 0 {
		return nil, EEXIST
	}

	if err := fs.vol.Unlink(info.parentIno, info.name); err != nil {
		return nil, toErrno(err)
	}
	inode, err := fs.vol.Symlink(info.parentIno, info.name, target, uint32(mode))
	if err != nil {
		return nil, toErrno(err)
	}
	fs.handles.SetIno(id, inode.Ino)

	fs.invalidate(old.Ino, info.parentIno)
	fs.updateUsage()
	return inodeToAttributes(inode), nil
}

// SymlinkAt creates a symbolic link at path.
func (fs *BackupFS) SymlinkAt(target, path string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("SymlinkAt", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = common.NormalizePath(path)
	parentIno, name, err := fs.resolveParent(path)
	if err != nil {
		return nil, toErrno(err)
	}
	inode, err := fs.vol.Symlink(parentIno, name, target, 0777)
	if err != nil {
		return nil, toErrno(err)
	}
	fs.invalidate(parentIno)
	fs.updateUsage()
	return inodeToAttributes(inode), nil
}

// Link creates a hard link to srcNode named name in directory dstNode.
// Node values are inode numbers; 0 addresses the root directory.
func (fs *BackupFS) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Link", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dirIno := uint64(dstNode)
	if dirIno == 0 {
		dirIno = storage.RootIno
	}
	return fs.linkLocked(uint64(srcNode), dirIno, name)
}

// LinkByPath creates a hard link newPath to the file at oldPath.
func (fs *BackupFS) LinkByPath(oldPath, newPath string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("LinkByPath", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ino, err := fs.vol.ResolvePath(common.NormalizePath(oldPath))
	if err != nil {
		return nil, toErrno(err)
	}
	parentIno, name, err := fs.resolveParent(common.NormalizePath(newPath))
	if err != nil {
		return nil, toErrno(err)
	}
	return fs.linkLocked(ino, parentIno, name)
}

func (fs *BackupFS) linkLocked(ino, dirIno uint64, name string) (*vfs.Attributes, error) {
	inode, err := fs.vol.Link(ino, dirIno, name)
	if err != nil {
		if errors.Is(err, common.ErrIsDir) {
			return nil, EPERM
		}
		return nil, toErrno(err)
	}
	fs.invalidate(ino, dirIno)
	return inodeToAttributes(inode), nil
}

// --- Backup Operations ---

// RestoreBackup writes the content of path's shadow back into path through
// the normal write path, so the replaced content becomes the new shadow.
func (fs *BackupFS) RestoreBackup(path string) (n int, err error) {
	defer recoverPanic("RestoreBackup", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = common.NormalizePath(path)
	ino, parentIno, name, err := fs.vol.ResolvePathWithParent(path)
	if err != nil {
		return 0, toErrno(err)
	}
	content, err := fs.backup.RestoreSource(parentIno, name)
	if err != nil {
		return 0, toErrno(err)
	}

	info := openHandle{ino: ino, parentIno: parentIno, name: name, path: path}
	saved := fs.policy
	fs.policy = storage.WriteReplace
	defer func() { fs.policy = saved }()

	n, err = fs.writeLocked(info, content, 0)
	if err != nil {
		return 0, toErrno(err)
	}
	log.Infof("[VFS] restored %q from %s (%d bytes)", path, storage.BackupName(name), n)
	return n, nil
}

// BackupPath returns the path of the shadow that backs up path.
func BackupPath(path string) string {
	path = common.NormalizePath(path)
	return common.JoinPath(common.ParentPath(path), storage.BackupName(common.BaseName(path)))
}

// --- Extended Attributes (stub implementation) ---

func (fs *BackupFS) Listxattr(handle vfs.VfsHandle) ([]string, error) {
	return []string{}, nil
}

func (fs *BackupFS) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (int, error) {
	return 0, ENOATTR
}

func (fs *BackupFS) Setxattr(handle vfs.VfsHandle, name string, value []byte) error {
	// Silently succeed (some SMB clients expect this to work)
	return nil
}

func (fs *BackupFS) Removexattr(handle vfs.VfsHandle, name string) error {
	return nil
}
