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

	"wbkfs/internal/common"
)

// maxIdleBuffers bounds the free list kept by a BufferPool.
const maxIdleBuffers = 64

// ContentBuffer is the fixed-capacity backing store of one file or symlink.
// A buffer belongs to exactly one node; hard links share the node, never
// the buffer.
type ContentBuffer struct {
	data [BufferCapacity]byte
}

// Clear zeroes the whole buffer
func (b *ContentBuffer) Clear() {
	clear(b.data[:])
}

// clearFrom zeroes the buffer from off to the end.
func (b *ContentBuffer) clearFrom(off int64) {
	if off < BufferCapacity {
		clear(b.data[off:])
	}
}

// WriteAt copies p into the buffer at off.
func (b *ContentBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, off)
	}
	if off > BufferCapacity || int64(len(p)) > BufferCapacity-off {
		return 0, fmt.Errorf("%w: %d bytes at offset %d", common.ErrContentTooLarge, len(p), off)
	}
	return copy(b.data[off:], p), nil
}

// ReadAt copies up to len(p) bytes starting at off, never past size.
func (b *ContentBuffer) ReadAt(p []byte, off, size int64) int {
	if off < 0 || off >= size {
		return 0
	}
	return copy(p, b.data[off:size])
}

// CopyFrom replaces the buffer content with the first n bytes of src.
func (b *ContentBuffer) CopyFrom(src *ContentBuffer, n int64) {
	b.Clear()
	copy(b.data[:n], src.data[:n])
}

// BufferPool hands out content buffers up to a fixed limit. A limit of zero
// means unlimited.
type BufferPool struct {
	mu    sync.Mutex
	limit int
	inUse int
	free  []*ContentBuffer
}

// NewBufferPool creates a pool that allows at most limit live buffers.
func NewBufferPool(limit int) *BufferPool {
	if limit < 0 {
		limit = 0
	}
	return &BufferPool{limit: limit}
}

// Alloc returns a zeroed buffer, or ErrOutOfResources when the limit is reached.
func (p *BufferPool) Alloc() (*ContentBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.inUse >= p.limit {
		return nil, fmt.Errorf("%w: %d content buffers in use", common.ErrOutOfResources, p.inUse)
	}
	p.inUse++
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		return b, nil
	}
	return &ContentBuffer{}, nil
}

// Release returns b to the pool. b must not be used afterwards.
func (p *BufferPool) Release(b *ContentBuffer) {
	if b == nil {
		return
	}
	b.Clear()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse--
	if len(p.free) < maxIdleBuffers {
		p.free = append(p.free, b)
	}
}

// InUse returns the number of buffers currently allocated
func (p *BufferPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Limit returns the configured buffer limit (0 = unlimited)
func (p *BufferPool) Limit() int {
	return p.limit
}
