// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package tempbuf provides capacity-bounded free lists of fixed-size
// byte and rune buffers.
//
// A buffer is owned by exactly one caller between Allocate and Free.
// Freeing a buffer twice is a programming error and panics with a
// ResourceMisuse *ioerr.Error.
package tempbuf

import (
	"sync"
	"sync/atomic"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Class selects one of the default buffer sizes.
type Class int

const (
	Small Class = iota
	Standard
	Large
)

// Default buffer sizes and free list capacity.
const (
	SmallSize       = 1024
	StandardSize    = 8192
	LargeSize       = 65536
	DefaultCapacity = 32
)

func (c Class) String() string {
	switch c {
	case Small:
		return "small"
	case Standard:
		return "standard"
	case Large:
		return "large"
	}
	return "unknown"
}

// Buffer is a fixed-capacity byte buffer checked out of a Pool.
type Buffer struct {
	data   []byte
	length int
	next   *Buffer
	pool   *Pool
	free   bool
}

// Write appends as much of p as fits and returns the number of bytes
// accepted. A short count means the buffer is full; the caller
// continues with another buffer.
func (b *Buffer) Write(p []byte) int {
	b.checkLive("write")
	n := copy(b.data[b.length:], p)
	b.length += n
	return n
}

// Bytes returns the valid portion of the buffer.
func (b *Buffer) Bytes() []byte {
	b.checkLive("read")
	return b.data[:b.length]
}

// Data returns the whole backing array, for callers that fill the
// buffer directly and then call SetLen.
func (b *Buffer) Data() []byte {
	b.checkLive("read")
	return b.data
}

// SetLen sets the valid length.
func (b *Buffer) SetLen(n int) {
	b.checkLive("write")
	if n < 0 || n > len(b.data) {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, "setlen", "", "length %d out of range [0,%d]", n, len(b.data)))
	}
	b.length = n
}

func (b *Buffer) Len() int       { return b.length }
func (b *Buffer) Cap() int       { return len(b.data) }
func (b *Buffer) Available() int { return len(b.data) - b.length }
func (b *Buffer) Reset()         { b.length = 0 }
func (b *Buffer) Next() *Buffer  { return b.next }

// SetNext links b to the following buffer in a chain.
func (b *Buffer) SetNext(next *Buffer) { b.next = next }

// Free returns the buffer to its pool. The caller must not use b
// afterwards.
func (b *Buffer) Free() {
	b.pool.Free(b)
}

func (b *Buffer) checkLive(op string) {
	if b.free {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, op, "", "use of freed %d-byte buffer", len(b.data)))
	}
}

// Pool is a capacity-bounded free list of same-size buffers. New
// buffers are created only when the free list is empty; buffers freed
// while the list is full are dropped.
type Pool struct {
	Logger logrus.FieldLogger

	size     int
	capacity int

	mtx      sync.Mutex
	freeList []*Buffer

	allocated int64 // bytes in buffers created by this pool and not dropped
	inUse     int64
}

// NewPool returns a pool of size-byte buffers keeping at most
// capacity free buffers. If reg is not nil, gauges labeled with name
// are registered there.
func NewPool(size, capacity int, reg prometheus.Registerer, name string) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool{
		size:     size,
		capacity: capacity,
		freeList: make([]*Buffer, 0, capacity),
	}
	if reg != nil {
		p.setupMetrics(reg, name)
	}
	return p
}

// Allocate returns a buffer with length 0, reusing a free one if
// available.
func (p *Pool) Allocate() *Buffer {
	atomic.AddInt64(&p.inUse, 1)
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
	atomic.AddInt64(&p.allocated, int64(p.size))
	if p.Logger != nil {
		p.Logger.WithField("Size", p.size).Debug("tempbuf: pool miss, allocating")
	}
	return &Buffer{data: make([]byte, p.size), pool: p}
}

// Free returns b to the pool. Freeing a buffer that is already free,
// or that belongs to another pool, panics.
func (p *Pool) Free(b *Buffer) {
	if b.pool != p {
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, "free", "", "buffer freed to a pool it was not allocated from"))
	}
	p.mtx.Lock()
	if b.free {
		p.mtx.Unlock()
		panic(ioerr.Errorf(ioerr.KindResourceMisuse, "free", "", "double free of %d-byte buffer", len(b.data)))
	}
	b.free = true
	b.next = nil
	b.length = 0
	kept := len(p.freeList) < p.capacity
	if kept {
		p.freeList = append(p.freeList, b)
	}
	p.mtx.Unlock()
	atomic.AddInt64(&p.inUse, -1)
	if !kept {
		atomic.AddInt64(&p.allocated, -int64(p.size))
	}
}

// Size returns the size of each buffer in the pool.
func (p *Pool) Size() int { return p.size }

// Cap returns the maximum number of free buffers retained.
func (p *Pool) Cap() int { return p.capacity }

// FreeLen returns the number of buffers on the free list.
func (p *Pool) FreeLen() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.freeList)
}

// InUse returns the number of buffers currently checked out.
func (p *Pool) InUse() int { return int(atomic.LoadInt64(&p.inUse)) }

// Alloc returns the number of bytes held by live buffers (checked
// out or on the free list).
func (p *Pool) Alloc() int64 { return atomic.LoadInt64(&p.allocated) }

func (p *Pool) setupMetrics(reg prometheus.Registerer, name string) {
	labels := prometheus.Labels{"pool": name}
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "vfs",
			Subsystem:   "tempbuf",
			Name:        "allocated_bytes",
			Help:        "Number of bytes allocated to buffers",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.Alloc()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "vfs",
			Subsystem:   "tempbuf",
			Name:        "free_buffers",
			Help:        "Number of buffers on the free list",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.FreeLen()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   "vfs",
			Subsystem:   "tempbuf",
			Name:        "inuse_buffers",
			Help:        "Number of buffers in use",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.InUse()) },
	))
}

// Pools holds one byte pool and one rune pool per size class.
type Pools struct {
	bytes [3]*Pool
	chars [3]*CharPool
}

// NewPools returns a set of pools with the given buffer sizes
// (indexed by Class) and free list capacity.
func NewPools(sizes [3]int, capacity int, reg prometheus.Registerer) *Pools {
	ps := &Pools{}
	for c := Small; c <= Large; c++ {
		ps.bytes[c] = NewPool(sizes[c], capacity, reg, c.String())
		ps.chars[c] = NewCharPool(sizes[c], capacity)
	}
	return ps
}

// Get returns the byte pool for class c.
func (ps *Pools) Get(c Class) *Pool { return ps.bytes[c] }

// Chars returns the rune pool for class c.
func (ps *Pools) Chars(c Class) *CharPool { return ps.chars[c] }

// SetLogger sets the logger of every byte pool.
func (ps *Pools) SetLogger(logger logrus.FieldLogger) {
	for _, p := range ps.bytes {
		p.Logger = logger
	}
}

var defaultPools = NewPools([3]int{SmallSize, StandardSize, LargeSize}, DefaultCapacity, nil)

// Default returns the process-wide pools.
func Default() *Pools { return defaultPools }

// Allocate returns a buffer from the default pool of class c.
func Allocate(c Class) *Buffer { return defaultPools.bytes[c].Allocate() }

// AllocateChars returns a rune buffer from the default pool of class c.
func AllocateChars(c Class) *CharBuffer { return defaultPools.chars[c].Allocate() }
