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

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"wbkfs/internal/common"
)

// WritePolicy selects how a write changes a file's size.
type WritePolicy int

const (
	// WriteReplace clears the buffer before copying the new bytes and sets
	// the size to the length of the write, whatever the offset.
	WriteReplace WritePolicy = iota
	// WriteExtend overlays the new bytes and grows the size to cover them.
	WriteExtend
)

func (p WritePolicy) String() string {
	if p == WriteExtend {
		return "extend"
	}
	return "replace"
}

// ParseWritePolicy parses "replace" or "extend". Empty means replace.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "replace":
		return WriteReplace, nil
	case "extend":
		return WriteExtend, nil
	}
	return WriteReplace, fmt.Errorf("%w: write policy %q", common.ErrInvalidArgument, s)
}

// Options configures a Volume
type Options struct {
	// MaxBuffers caps the number of live content buffers (0 = unlimited).
	MaxBuffers int
	// Uid and Gid own every node created on the volume.
	Uid uint32
	Gid uint32
}

// Volume is an in-memory file tree: a node table, the content buffers owned
// by its nodes, and the directory index binding names to nodes. All state is
// lost on Close.
type Volume struct {
	mu     sync.RWMutex
	pool   *BufferPool
	nodes  *NodeTable
	dirs   *DirectoryIndex
	uid    uint32
	gid    uint32
	closed bool
}

// NewVolume initializes a volume holding only the root directory.
func NewVolume(opts Options) (*Volume, error) {
	pool := NewBufferPool(opts.MaxBuffers)
	nodes := NewNodeTable(pool)
	v := &Volume{
		pool:  pool,
		nodes: nodes,
		dirs:  NewDirectoryIndex(nodes),
		uid:   opts.Uid,
		gid:   opts.Gid,
	}

	root, err := v.allocate(DefaultDirMode)
	if err != nil {
		return nil, err
	}
	if root.Ino != RootIno {
		return nil, fmt.Errorf("root allocated as inode %d", root.Ino)
	}
	log.Debugf("[Volume] initialized (max_buffers=%d)", opts.MaxBuffers)
	return v, nil
}

// Close releases every node. Further calls fail with ErrClosed.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	n := v.nodes.Len()
	v.nodes.Clear()
	log.Debugf("[Volume] teardown released %d nodes", n)
	return nil
}

func (v *Volume) allocate(mode uint32) (*Inode, error) {
	n, err := v.nodes.Allocate(mode)
	if err != nil {
		return nil, err
	}
	n.Uid, n.Gid = v.uid, v.gid
	return n, nil
}

func (v *Volume) node(ino uint64) (*Inode, error) {
	if v.closed {
		return nil, common.ErrClosed
	}
	n, ok := v.nodes.Get(ino)
	if !ok {
		return nil, fmt.Errorf("%w: inode %d", common.ErrNotFound, ino)
	}
	return n, nil
}

func (v *Volume) file(ino uint64) (*Inode, error) {
	n, err := v.node(ino)
	if err != nil {
		return nil, err
	}
	switch n.Kind() {
	case KindRegular:
		return n, nil
	case KindDirectory:
		return nil, fmt.Errorf("%w: inode %d", common.ErrIsDir, ino)
	default:
		return nil, fmt.Errorf("%w: inode %d is a %s", common.ErrInvalidArgument, ino, n.Kind())
	}
}

// GetInode returns a snapshot of the inode
func (v *Volume) GetInode(ino uint64) (*Inode, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n, err := v.node(ino)
	if err != nil {
		return nil, err
	}
	return n.snapshot(), nil
}

// Lookup finds name in parentIno
func (v *Volume) Lookup(parentIno uint64, name string) (*Dentry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, common.ErrClosed
	}
	return v.dirs.Lookup(parentIno, name)
}

// LookupWithInode finds name in parentIno and returns the entry and a
// snapshot of its inode.
func (v *Volume) LookupWithInode(parentIno uint64, name string) (*Dentry, *Inode, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, nil, common.ErrClosed
	}
	dentry, err := v.dirs.Lookup(parentIno, name)
	if err != nil {
		return nil, nil, err
	}
	n, err := v.node(dentry.Ino)
	if err != nil {
		return nil, nil, err
	}
	return dentry, n.snapshot(), nil
}

// ListDir lists the entries of a directory in insertion order.
func (v *Volume) ListDir(parentIno uint64) ([]DirEntry, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, common.ErrClosed
	}
	children, err := v.dirs.Children(parentIno)
	if err != nil {
		return nil, err
	}
	entries := make([]DirEntry, 0, len(children))
	for _, c := range children {
		n, ok := v.nodes.Get(c.Ino)
		if !ok {
			continue
		}
		entries = append(entries, DirEntry{Name: c.Name, Ino: c.Ino, Mode: n.Mode, Size: n.Size, Mtime: n.Mtime})
	}
	return entries, nil
}

// HasChildren reports whether a directory has entries
func (v *Volume) HasChildren(ino uint64) (bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return false, common.ErrClosed
	}
	return v.dirs.HasChildren(ino)
}

// ParentOf returns the parent of a directory (RootIno for the root).
func (v *Volume) ParentOf(dirIno uint64) (uint64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0, common.ErrClosed
	}
	return v.dirs.Parent(dirIno)
}

// ResolvePath resolves a slash-separated path to an inode number
func (v *Volume) ResolvePath(path string) (uint64, error) {
	ino, _, _, err := v.ResolvePathWithParent(path)
	return ino, err
}

// ResolvePathWithParent resolves a path and also returns the parent inode and
// the final name component.
func (v *Volume) ResolvePathWithParent(path string) (ino, parentIno uint64, name string, err error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0, 0, "", common.ErrClosed
	}
	return v.dirs.ResolvePathWithParent(path)
}

// bind allocates a node and inserts it under name. Nothing is left behind
// when either step fails.
func (v *Volume) bind(parentIno uint64, name string, mode uint32) (*Inode, error) {
	if v.closed {
		return nil, common.ErrClosed
	}
	if err := validateEntryName(name, mode); err != nil {
		return nil, err
	}
	if _, err := v.dirs.Lookup(parentIno, name); err == nil {
		return nil, fmt.Errorf("%w: %q in inode %d", common.ErrExists, name, parentIno)
	} else if !common.IsNotFound(err) {
		return nil, err
	}

	n, err := v.allocate(mode)
	if err != nil {
		return nil, err
	}
	if err := v.dirs.Insert(parentIno, name, n.Ino); err != nil {
		v.nodes.Release(n)
		return nil, err
	}
	v.touchDir(parentIno)
	return n, nil
}

func (v *Volume) touchDir(ino uint64) {
	if n, ok := v.nodes.Get(ino); ok {
		now := time.Now()
		n.Mtime, n.Ctime = now, now
	}
}

// Create adds an empty regular file
func (v *Volume) Create(parentIno uint64, name string, mode uint32) (*Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.bind(parentIno, name, ModeFile|(mode&07777))
	if err != nil {
		return nil, err
	}
	return n.snapshot(), nil
}

// Mkdir adds an empty directory
func (v *Volume) Mkdir(parentIno uint64, name string, mode uint32) (*Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.bind(parentIno, name, ModeDir|(mode&07777))
	if err != nil {
		return nil, err
	}
	return n.snapshot(), nil
}

// Symlink adds a symbolic link whose target is kept in its content buffer.
func (v *Volume) Symlink(parentIno uint64, name, target string, mode uint32) (*Inode, error) {
	if len(target) > BufferCapacity {
		return nil, fmt.Errorf("%w: symlink target is %d bytes", common.ErrContentTooLarge, len(target))
	}
	if mode&07777 == 0 {
		mode = 0777
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.bind(parentIno, name, ModeSymlink|(mode&07777))
	if err != nil {
		return nil, err
	}
	_, _ = n.content.WriteAt([]byte(target), 0)
	n.Size = int64(len(target))
	return n.snapshot(), nil
}

// Link binds an existing non-directory node under a new name.
func (v *Volume) Link(ino, parentIno uint64, name string) (*Inode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	n, err := v.node(ino)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, fmt.Errorf("%w: cannot hard link inode %d", common.ErrIsDir, ino)
	}
	if err := validateEntryName(name, n.Mode); err != nil {
		return nil, err
	}
	if err := v.dirs.Insert(parentIno, name, ino); err != nil {
		return nil, err
	}
	n.Nlink++
	n.Ctime = time.Now()
	v.touchDir(parentIno)
	return n.snapshot(), nil
}

// Unlink removes name from parentIno. The node is released once its last
// name is gone. Directories must be empty.
func (v *Volume) Unlink(parentIno uint64, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return common.ErrClosed
	}

	dentry, err := v.dirs.Lookup(parentIno, name)
	if err != nil {
		return err
	}
	n, err := v.node(dentry.Ino)
	if err != nil {
		return err
	}
	if n.IsDir() {
		if len(n.dir.names) > 0 {
			return fmt.Errorf("%w: %q", common.ErrNotEmpty, name)
		}
	}
	if _, err := v.dirs.Remove(parentIno, name); err != nil {
		return err
	}
	v.touchDir(parentIno)
	v.dropLink(n)
	return nil
}

// dropLink removes one name from n and releases it when none remain.
func (v *Volume) dropLink(n *Inode) {
	if n.IsDir() {
		n.Nlink = 0
	} else {
		n.Nlink--
	}
	n.Ctime = time.Now()
	if n.Nlink <= 0 {
		v.nodes.Release(n)
	}
}

// Rename moves srcName in srcParent to dstName in dstParent, replacing an
// existing destination the way rename(2) does.
func (v *Volume) Rename(srcParent uint64, srcName string, dstParent uint64, dstName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return common.ErrClosed
	}

	src, err := v.dirs.Lookup(srcParent, srcName)
	if err != nil {
		return err
	}
	if srcParent == dstParent && srcName == dstName {
		return nil
	}
	n, err := v.node(src.Ino)
	if err != nil {
		return err
	}
	if err := validateEntryName(dstName, n.Mode); err != nil {
		return err
	}
	if n.IsDir() && v.dirs.IsAncestor(n.Ino, dstParent) {
		return fmt.Errorf("%w: cannot move %q into itself", common.ErrInvalidArgument, srcName)
	}

	if dst, err := v.dirs.Lookup(dstParent, dstName); err == nil {
		if dst.Ino == src.Ino {
			// Two names for one node: drop the source name.
			if _, err := v.dirs.Remove(srcParent, srcName); err != nil {
				return err
			}
			v.dropLink(n)
			return nil
		}
		old, err := v.node(dst.Ino)
		if err != nil {
			return err
		}
		switch {
		case old.IsDir() && !n.IsDir():
			return fmt.Errorf("%w: %q", common.ErrIsDir, dstName)
		case !old.IsDir() && n.IsDir():
			return fmt.Errorf("%w: %q", common.ErrNotDir, dstName)
		case old.IsDir() && len(old.dir.names) > 0:
			return fmt.Errorf("%w: %q", common.ErrNotEmpty, dstName)
		}
		if _, err := v.dirs.Remove(dstParent, dstName); err != nil {
			return err
		}
		v.dropLink(old)
	} else if !common.IsNotFound(err) {
		return err
	}

	if _, err := v.dirs.Remove(srcParent, srcName); err != nil {
		return err
	}
	if err := v.dirs.Insert(dstParent, dstName, src.Ino); err != nil {
		return err
	}
	n.Ctime = time.Now()
	v.touchDir(srcParent)
	v.touchDir(dstParent)
	return nil
}

// ReadContent reads up to length bytes at offset. Reading at or past the end
// of the file returns no bytes and no error.
func (v *Volume) ReadContent(ino uint64, offset int64, length int) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", common.ErrInvalidArgument, offset, length)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	n, err := v.file(ino)
	if err != nil {
		return nil, err
	}
	if offset >= n.Size {
		return []byte{}, nil
	}
	buf := make([]byte, min(int64(length), n.Size-offset))
	read := n.content.ReadAt(buf, offset, n.Size)
	return buf[:read], nil
}

// WriteContent applies data at offset under policy and returns the number of
// bytes accepted. The whole write is rejected with ErrContentTooLarge when it
// does not fit the buffer.
func (v *Volume) WriteContent(ino uint64, offset int64, data []byte, policy WritePolicy) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, offset)
	}
	if offset > BufferCapacity || int64(len(data)) > BufferCapacity-offset {
		return 0, fmt.Errorf("%w: %d bytes at offset %d", common.ErrContentTooLarge, len(data), offset)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.file(ino)
	if err != nil {
		return 0, err
	}

	if policy == WriteReplace {
		n.content.Clear()
	}
	written, err := n.content.WriteAt(data, offset)
	if err != nil {
		return 0, err
	}
	if policy == WriteReplace {
		n.Size = int64(written)
	} else {
		n.Size = max(n.Size, offset+int64(written))
	}
	now := time.Now()
	n.Mtime, n.Ctime = now, now
	return written, nil
}

// CopyContent overwrites dst with the full content of src.
func (v *Volume) CopyContent(dstIno, srcIno uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	src, err := v.file(srcIno)
	if err != nil {
		return err
	}
	dst, err := v.file(dstIno)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	dst.content.CopyFrom(src.content, src.Size)
	dst.Size = src.Size
	now := time.Now()
	dst.Mtime, dst.Ctime = now, now
	return nil
}

// TruncateContent sets the file size. Bytes past the new size read as zero
// if the file grows again.
func (v *Volume) TruncateContent(ino uint64, size int64) error {
	if size < 0 {
		return fmt.Errorf("%w: negative size %d", common.ErrInvalidArgument, size)
	}
	if size > BufferCapacity {
		return fmt.Errorf("%w: size %d", common.ErrContentTooLarge, size)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.file(ino)
	if err != nil {
		return err
	}
	if size == n.Size {
		return nil
	}

	n.content.clearFrom(min(size, n.Size))
	n.Size = size
	now := time.Now()
	n.Mtime, n.Ctime = now, now
	return nil
}

// ReadSymlink returns the target of a symbolic link
func (v *Volume) ReadSymlink(ino uint64) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n, err := v.node(ino)
	if err != nil {
		return "", err
	}
	if !n.IsSymlink() {
		return "", fmt.Errorf("%w: inode %d is not a symlink", common.ErrInvalidArgument, ino)
	}
	buf := make([]byte, n.Size)
	n.content.ReadAt(buf, 0, n.Size)
	return string(buf), nil
}

// UpdateInode applies metadata changes. The node kind cannot change.
func (v *Volume) UpdateInode(ino uint64, updates *InodeUpdate) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, err := v.node(ino)
	if err != nil {
		return err
	}

	if updates.Mode != nil {
		n.Mode = (n.Mode & ModeMask) | (*updates.Mode & 07777)
	}
	if updates.Uid != nil {
		n.Uid = *updates.Uid
	}
	if updates.Gid != nil {
		n.Gid = *updates.Gid
	}
	if updates.Atime != nil {
		n.Atime = *updates.Atime
	}
	if updates.Mtime != nil {
		n.Mtime = *updates.Mtime
	}
	n.Ctime = time.Now()
	return nil
}

// Stats returns current usage counters
func (v *Volume) Stats() Stats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Stats{
		Nodes:        v.nodes.Len(),
		BuffersInUse: v.pool.InUse(),
		BufferLimit:  v.pool.Limit(),
		NextIno:      v.nodes.NextIno(),
	}
}
