package storage

import (
	"fmt"
	"slices"

	"wbkfs/internal/common"
)

// dirEntries holds the children of one directory. names keeps insertion
// order for enumeration; index gives exact, case-sensitive lookup.
type dirEntries struct {
	names  []string
	index  map[string]uint64
	parent uint64
}

func newDirEntries() *dirEntries {
	return &dirEntries{index: make(map[string]uint64)}
}

// DirectoryIndex maintains parent to child bindings on top of a NodeTable.
// It is not synchronized; Volume serializes access.
type DirectoryIndex struct {
	nodes *NodeTable
}

// NewDirectoryIndex creates an index over nodes
func NewDirectoryIndex(nodes *NodeTable) *DirectoryIndex {
	return &DirectoryIndex{nodes: nodes}
}

func (d *DirectoryIndex) dir(ino uint64) (*Inode, error) {
	n, ok := d.nodes.Get(ino)
	if !ok {
		return nil, fmt.Errorf("%w: inode %d", common.ErrNotFound, ino)
	}
	if n.dir == nil {
		return nil, fmt.Errorf("%w: inode %d", common.ErrNotDir, ino)
	}
	return n, nil
}

// Lookup finds name among the children of dirIno.
func (d *DirectoryIndex) Lookup(dirIno uint64, name string) (*Dentry, error) {
	dir, err := d.dir(dirIno)
	if err != nil {
		return nil, err
	}
	ino, ok := dir.dir.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q in inode %d", common.ErrNotFound, name, dirIno)
	}
	return &Dentry{ParentIno: dirIno, Name: name, Ino: ino}, nil
}

// Children returns the entries of dirIno in insertion order.
func (d *DirectoryIndex) Children(dirIno uint64) ([]Dentry, error) {
	dir, err := d.dir(dirIno)
	if err != nil {
		return nil, err
	}
	out := make([]Dentry, 0, len(dir.dir.names))
	for _, name := range dir.dir.names {
		out = append(out, Dentry{ParentIno: dirIno, Name: name, Ino: dir.dir.index[name]})
	}
	return out, nil
}

// HasChildren reports whether dirIno has any entries
func (d *DirectoryIndex) HasChildren(dirIno uint64) (bool, error) {
	dir, err := d.dir(dirIno)
	if err != nil {
		return false, err
	}
	return len(dir.dir.names) > 0, nil
}

// Insert binds name to ino in dirIno. A subdirectory adds one link to its
// new parent for its ".." entry.
func (d *DirectoryIndex) Insert(dirIno uint64, name string, ino uint64) error {
	dir, err := d.dir(dirIno)
	if err != nil {
		return err
	}
	if _, exists := dir.dir.index[name]; exists {
		return fmt.Errorf("%w: %q in inode %d", common.ErrExists, name, dirIno)
	}
	child, ok := d.nodes.Get(ino)
	if !ok {
		return fmt.Errorf("%w: inode %d", common.ErrNotFound, ino)
	}

	dir.dir.names = append(dir.dir.names, name)
	dir.dir.index[name] = ino
	if child.dir != nil {
		child.dir.parent = dirIno
		dir.Nlink++
	}
	return nil
}

// Remove unbinds name from dirIno and returns the inode it referred to.
func (d *DirectoryIndex) Remove(dirIno uint64, name string) (uint64, error) {
	dir, err := d.dir(dirIno)
	if err != nil {
		return 0, err
	}
	ino, ok := dir.dir.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q in inode %d", common.ErrNotFound, name, dirIno)
	}

	delete(dir.dir.index, name)
	if i := slices.Index(dir.dir.names, name); i >= 0 {
		dir.dir.names = slices.Delete(dir.dir.names, i, i+1)
	}
	if child, ok := d.nodes.Get(ino); ok && child.dir != nil {
		dir.Nlink--
	}
	return ino, nil
}

// Parent returns the parent of a directory. The root is its own parent.
func (d *DirectoryIndex) Parent(dirIno uint64) (uint64, error) {
	dir, err := d.dir(dirIno)
	if err != nil {
		return 0, err
	}
	if dirIno == RootIno {
		return RootIno, nil
	}
	return dir.dir.parent, nil
}

// IsAncestor reports whether ancestor is dirIno or one of its parents.
func (d *DirectoryIndex) IsAncestor(ancestor, dirIno uint64) bool {
	for ino := dirIno; ; {
		if ino == ancestor {
			return true
		}
		if ino == RootIno {
			return false
		}
		parent, err := d.Parent(ino)
		if err != nil {
			return false
		}
		ino = parent
	}
}

// ResolvePathWithParent walks path from the root. For the root itself
// parentIno is RootIno and name is empty.
func (d *DirectoryIndex) ResolvePathWithParent(path string) (ino, parentIno uint64, name string, err error) {
	parts := common.SplitPath(path)
	ino, parentIno = RootIno, RootIno
	for _, part := range parts {
		dentry, err := d.Lookup(ino, part)
		if err != nil {
			return 0, 0, "", err
		}
		parentIno, ino, name = ino, dentry.Ino, part
	}
	return ino, parentIno, name, nil
}
