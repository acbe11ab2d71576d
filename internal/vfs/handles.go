package vfs

import "sync"

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory. parentIno and name record
// the binding the handle was opened through; writes back up under that name.
type openHandle struct {
	ino         uint64
	parentIno   uint64
	name        string
	path        string // normalized path within the volume
	isDir       bool
	flags       int
	dirPos      int  // For ReadDir pagination
	dirEnumDone bool // True if directory enumeration completed (for SMB)
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate creates a new handle. Handle 0 is never issued; it addresses the
// root directory.
func (hm *HandleManager) Allocate(h openHandle) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	id := hm.nextHandle
	hm.nextHandle++
	hm.handles[id] = &h
	return id
}

// Get retrieves a copy of a handle's info
func (hm *HandleManager) Get(h HandleID) (openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	if !ok {
		return openHandle{}, false
	}
	return *info, true
}

// Release frees a handle
func (hm *HandleManager) Release(h HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, h)
}

// UpdateDirPos updates the directory position for ReadDir
func (hm *HandleManager) UpdateDirPos(h HandleID, pos int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirPos = pos
	}
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
		if !done {
			info.dirPos = 0
		}
	}
}

// Rebind points every handle opened through (oldParent, oldName) at its new
// location after a rename.
func (hm *HandleManager) Rebind(oldParent uint64, oldName string, newParent uint64, newName, newPath string) int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	n := 0
	for _, info := range hm.handles {
		if info.parentIno == oldParent && info.name == oldName {
			info.parentIno, info.name, info.path = newParent, newName, newPath
			n++
		}
	}
	return n
}

// SetIno points a handle at a different node under the same name.
func (hm *HandleManager) SetIno(h HandleID, ino uint64) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	if ok {
		info.ino = ino
	}
	return ok
}

// Len returns the number of open handles
func (hm *HandleManager) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear removes all handles, returning the count of handles cleared
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	count := len(hm.handles)
	hm.handles = make(map[HandleID]*openHandle)
	// Don't reset nextHandle to avoid handle ID reuse issues
	return count
}
