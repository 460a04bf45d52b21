// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package vfs is a uniform addressing and streaming layer over
// heterogeneous backends. A Path names a location in a backend (an
// FS); streams opened on a Path are buffered with pooled buffers and
// can transcode characters.
package vfs

import (
	"time"
)

// NodeType is the kind of node a path refers to.
type NodeType int

const (
	TypeNone NodeType = iota
	TypeFile
	TypeDir
	TypeObject
)

func (t NodeType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "directory"
	case TypeObject:
		return "object"
	}
	return "none"
}

// FileInfo describes a node. Size is -1 when the backend cannot
// tell; ModTime is zero when unknown.
type FileInfo struct {
	Name       string
	Type       NodeType
	Size       int64
	ModTime    time.Time
	Executable bool
}

func (fi FileInfo) IsDir() bool { return fi.Type == TypeDir }

// FS is implemented by every backend. Stat returns a KindNotFound
// error for a missing node.
//
// Backends implement whatever optional interfaces below match their
// capabilities. Path methods return a KindUnsupported error when the
// backend lacks the capability.
type FS interface {
	Scheme() string
	Stat(p *Path) (FileInfo, error)
	OpenRead(p *Path) (StreamImpl, error)
}

// WriteFS can open a node for writing, truncating it or (if append
// is true) appending to it.
type WriteFS interface {
	OpenWrite(p *Path, append bool) (StreamImpl, error)
}

// ReadWriteFS can open a single stream for both directions.
type ReadWriteFS interface {
	OpenReadWrite(p *Path) (StreamImpl, error)
}

// CreateFS creates an empty file, failing with created==false if the
// node already exists.
type CreateFS interface {
	CreateNew(p *Path) (created bool, err error)
}

// DirFS supports directories.
type DirFS interface {
	List(p *Path) ([]string, error)
	Mkdir(p *Path) error
}

type RemoveFS interface {
	Remove(p *Path) error
}

// RenameFS renames within one backend. Renaming onto a path owned by
// a different FS fails.
type RenameFS interface {
	Rename(from, to *Path) error
}

type TruncateFS interface {
	Truncate(p *Path, size int64) error
}

type ExecFS interface {
	SetExecutable(p *Path, exec bool) error
}

// ValueFS stores arbitrary objects at object nodes.
type ValueFS interface {
	Value(p *Path) (interface{}, error)
	SetValue(p *Path, v interface{}) error
}

// AccessFS reports permissions. Without it, CanRead means IsFile and
// CanWrite means the backend implements WriteFS.
type AccessFS interface {
	CanRead(p *Path) bool
	CanWrite(p *Path) bool
}

// NativeFS maps a path to an operating system path.
type NativeFS interface {
	NativePath(p *Path) string
}

// ResourceFS returns every existing node matching name beneath p,
// for backends that overlay several trees.
type ResourceFS interface {
	Resources(p *Path, name string) ([]*Path, error)
}

// SchemeWalker parses the part of a URL after "scheme:". Backends
// that address hosts or nested URLs (http, jar, merge, tcp)
// implement it; others get rest normalized against "/".
type SchemeWalker interface {
	SchemeWalk(parent *Path, userPath, rest string, attrs Attributes) (*Path, error)
}

// Walker resolves a scheme-less userPath relative to parent, which
// belongs to this FS. Without it, userPath is normalized against
// parent's path.
type Walker interface {
	Walk(parent *Path, userPath string, attrs Attributes) (*Path, error)
}

// URLer formats the URL of a path, if the default
// "scheme:path?query" is wrong for the backend.
type URLer interface {
	URL(p *Path) string
}

// Closer is implemented by backends that hold shared resources
// (connections, archive handles, index files).
type Closer interface {
	Close() error
}
