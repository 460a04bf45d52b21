// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tempbuf

import (
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
)

// CharBuffer is a fixed-capacity rune buffer checked out of a
// CharPool.
type CharBuffer struct {
	data   []rune
	length int
	next   *CharBuffer
	pool   *CharPool
	free   bool
}

// Write appends as much of p as fits and returns the number of runes
// accepted.
func (b *CharBuffer) Write(p []rune) int {
	b.checkLive("write")
	n := copy(b.data[b.length:], p)
	b.length += n
	return n
}

// WriteString appends as much of s as fits and returns the number of
// bytes of s consumed.
func (b *CharBuffer) WriteString(s string) int {
	b.checkLive("write")
	for i, r := range s {
		if b.length == len(b.data) {
			return i
		}
		b.data[b.length] = r
		b.length++
	}
	return len(s)
}

// Runes returns the valid portion of the buffer.
func (b *CharBuffer) Runes() []rune {
	b.checkLive("read")
	return b.data[:b.length]
}

func (b *CharBuffer) String() string {
	return string(b.Runes())
}

func (b *CharBuffer) Len() int              { return b.length }
func (b *CharBuffer) Cap() int              { return len(b.data) }
func (b *CharBuffer) Reset()                { b.length = 0 }
func (b *CharBuffer) Next() *CharBuffer     { return b.next }
func (b *CharBuffer) SetNext(n *CharBuffer) { b.next = n }
func (b *CharBuffer) Free()                 { b.pool.Free(b) }

func (b *CharBuffer) checkLive(op string) {
	if b.free {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, op, "", "use of freed %d-rune buffer", len(b.data)))
	}
}

// CharPool is the rune counterpart of Pool.
type CharPool struct {
	size     int
	capacity int

	mtx      sync.Mutex
	freeList []*CharBuffer
}

// NewCharPool returns a pool of size-rune buffers keeping at most
// capacity free buffers.
func NewCharPool(size, capacity int) *CharPool {
	if capacity < 0 {
		capacity = 0
	}
	return &CharPool{size: size, capacity: capacity}
}

func (p *CharPool) Allocate() *CharBuffer {
	p.mtx.Lock()
	if n := len(p.freeList); n > 0 {
		b := p.freeList[n-1]
		p.freeList[n-1] = nil
		p.freeList = p.freeList[:n-1]
		p.mtx.Unlock()
		b.free = false
		b.length = 0
		b.next = nil
		return b
	}
	p.mtx.Unlock()
	return &CharBuffer{data: make([]rune, p.size), pool: p}
}

func (p *CharPool) Free(b *CharBuffer) {
	if b.pool != p {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, "free", "", "buffer freed to a pool it was not allocated from"))
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if b.free {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, "free", "", "double free of %d-rune buffer", len(b.data)))
	}
	b.free = true
	b.next = nil
	b.length = 0
	if len(p.freeList) < p.capacity {
		p.freeList = append(p.freeList, b)
	}
}

func (p *CharPool) FreeLen() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.freeList)
}
