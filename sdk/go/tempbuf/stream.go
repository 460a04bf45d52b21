// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tempbuf

import (
	"io"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
)

// Stream accumulates bytes in a chain of pooled buffers. It is used
// to hold request bodies whose length must be known before they are
// sent.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	pool      *Pool
	head      *Buffer
	tail      *Buffer
	length    int64
	destroyed bool
}

// NewStream returns an empty stream that allocates from pool. A nil
// pool means the default Standard pool.
func NewStream(pool *Pool) *Stream {
	if pool == nil {
		pool = defaultPools.bytes[Standard]
	}
	return &Stream{pool: pool}
}

// Write implements io.Writer. It never returns a short count.
func (s *Stream) Write(p []byte) (int, error) {
	if s.destroyed {
		return 0, ioerr.Closed("write", "tempbuf")
	}
	total := len(p)
	for len(p) > 0 {
		if s.tail == nil || s.tail.Available() == 0 {
			b := s.pool.Allocate()
			if s.tail == nil {
				s.head = b
			} else {
				s.tail.SetNext(b)
			}
			s.tail = b
		}
		n := s.tail.Write(p)
		p = p[n:]
		s.length += int64(n)
	}
	return total, nil
}

// WriteString is like Write.
func (s *Stream) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Len returns the number of bytes written so far.
func (s *Stream) Len() int64 { return s.length }

// Head returns the first buffer of the chain, or nil if nothing has
// been written.
func (s *Stream) Head() *Buffer { return s.head }

// WriteTo writes the whole content to w without consuming it.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	if s.destroyed {
		return 0, ioerr.Closed("read", "tempbuf")
	}
	var total int64
	for b := s.head; b != nil; b = b.Next() {
		n, err := w.Write(b.Bytes())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Reader returns a reader over the current content. The reader is
// invalid once the stream is destroyed.
func (s *Stream) Reader() io.Reader {
	return &chainReader{b: s.head}
}

// Destroy frees every buffer in the chain. Subsequent writes fail;
// Destroy itself may be called more than once.
func (s *Stream) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	for b := s.head; b != nil; {
		next := b.Next()
		b.Free()
		b = next
	}
	s.head, s.tail = nil, nil
	s.length = 0
}

type chainReader struct {
	b   *Buffer
	off int
}

func (r *chainReader) Read(p []byte) (int, error) {
	for r.b != nil && r.off >= r.b.Len() {
		r.b = r.b.Next()
		r.off = 0
	}
	if r.b == nil {
		return 0, io.EOF
	}
	n := copy(p, r.b.Bytes()[r.off:])
	r.off += n
	return n, nil
}
