// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"io"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
)

// StreamImpl is the unbuffered byte channel a backend returns for an
// open path. It belongs to one caller and is not safe for concurrent
// use.
type StreamImpl interface {
	io.Reader
	io.Writer
	io.Closer
	CanRead() bool
	CanWrite() bool
}

// Flusher is implemented by streams with their own buffering.
type Flusher interface {
	Flush() error
}

// Availabler reports how many bytes can be read without blocking,
// or -1 if unknown.
type Availabler interface {
	Available() int
}

// Attributer exposes stream metadata. HTTP streams use it for
// request headers (set) and response headers (get).
type Attributer interface {
	Attribute(name string) (string, bool)
	SetAttribute(name, value string) error
	AttributeNames() []string
}

// Positioner supports random access.
type Positioner interface {
	SetPosition(pos int64) error
}

// NullStream implements StreamImpl by refusing everything. Backends
// embed it and override the halves they support.
type NullStream struct{}

func (NullStream) Read([]byte) (int, error)  { return 0, ioerr.Unsupported("read", "") }
func (NullStream) Write([]byte) (int, error) { return 0, ioerr.Unsupported("write", "") }
func (NullStream) Close() error              { return nil }
func (NullStream) CanRead() bool             { return false }
func (NullStream) CanWrite() bool            { return false }

// ReaderStream adapts an io.ReadCloser to a read-only StreamImpl.
type ReaderStream struct {
	NullStream
	R io.Reader
	C io.Closer
}

func (s *ReaderStream) Read(p []byte) (int, error) { return s.R.Read(p) }
func (s *ReaderStream) CanRead() bool              { return true }

func (s *ReaderStream) Close() error {
	if s.C != nil {
		return s.C.Close()
	}
	return nil
}

// WriterStream adapts an io.WriteCloser to a write-only StreamImpl.
type WriterStream struct {
	NullStream
	W io.Writer
	C io.Closer
}

func (s *WriterStream) Write(p []byte) (int, error) { return s.W.Write(p) }
func (s *WriterStream) CanWrite() bool              { return true }

func (s *WriterStream) Close() error {
	if s.C != nil {
		return s.C.Close()
	}
	return nil
}
