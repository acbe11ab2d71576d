package storage

import (
	"fmt"
	"sync"
	"time"

	"wbkfs/internal/common"
)

// NodeTable allocates and stores inodes. Inode numbers come from a
// monotonically increasing counter and are never reused.
type NodeTable struct {
	mu      sync.Mutex
	nodes   map[uint64]*Inode
	nextIno uint64
	pool    *BufferPool
}

// NewNodeTable creates an empty table whose first allocation is RootIno.
func NewNodeTable(pool *BufferPool) *NodeTable {
	return &NodeTable{
		nodes:   make(map[uint64]*Inode),
		nextIno: RootIno,
		pool:    pool,
	}
}

// Allocate creates a node of the kind encoded in mode. Files and symlinks get
// a content buffer; directories start with a link count of 2 for their
// self-entry. On failure the table is left unchanged.
func (t *NodeTable) Allocate(mode uint32) (*Inode, error) {
	kind := KindOf(mode)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: mode %o", common.ErrInvalidArgument, mode)
	}

	var buf *ContentBuffer
	if kind.hasContent() {
		var err error
		if buf, err = t.pool.Alloc(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	n := &Inode{
		Mode:    mode,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Nlink:   1,
		content: buf,
	}
	if kind == KindDirectory {
		n.Nlink = 2
		n.dir = newDirEntries()
	}

	t.mu.Lock()
	n.Ino = t.nextIno
	t.nextIno++
	t.nodes[n.Ino] = n
	t.mu.Unlock()

	return n, nil
}

// Get returns the live node with the given id
func (t *NodeTable) Get(ino uint64) (*Inode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[ino]
	return n, ok
}

// Release drops the node and returns its buffer to the pool. Its id stays
// retired.
func (t *NodeTable) Release(n *Inode) {
	t.mu.Lock()
	delete(t.nodes, n.Ino)
	t.mu.Unlock()

	t.pool.Release(n.content)
	n.content = nil
	n.dir = nil
	n.Nlink = 0
}

// Len returns the number of live nodes
func (t *NodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// NextIno returns the id the next allocation will receive
func (t *NodeTable) NextIno() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextIno
}

// Clear releases every node and resets the counter. Only used at teardown.
func (t *NodeTable) Clear() {
	t.mu.Lock()
	nodes := t.nodes
	t.nodes = make(map[uint64]*Inode)
	t.nextIno = RootIno
	t.mu.Unlock()

	for _, n := range nodes {
		t.pool.Release(n.content)
		n.content = nil
		n.dir = nil
		n.Nlink = 0
	}
}
