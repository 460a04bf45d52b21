// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package memfs is the "memory" backend: an in-process tree of
// directories, files and object nodes.
package memfs

import (
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

var (
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrFileExists        = errors.New("file exists")
	ErrNotADirectory     = errors.New("not a directory")
	ErrNotAFile          = errors.New("not a file")
	ErrNotAnObject       = errors.New("not an object")
)

// node is a directory, file or object. Children form a singly
// linked list. All fields are guarded by the owning FS's lock.
type node struct {
	name       string
	typ        vfs.NodeType
	next       *node
	firstChild *node
	modTime    time.Time
	data       []byte
	value      interface{}
	executable bool
}

func (n *node) lookup(name string) *node {
	for child := n.firstChild; child != nil; child = child.next {
		if child.name == name {
			return child
		}
	}
	return nil
}

// add links child in as the first child. The caller has checked
// that the name is free.
func (n *node) add(child *node, now time.Time) {
	child.next = n.firstChild
	n.firstChild = child
	n.modTime = now
}

// unlink removes the named child regardless of its contents.
func (n *node) unlink(name string, now time.Time) *node {
	var prev *node
	for child := n.firstChild; child != nil; prev, child = child, child.next {
		if child.name != name {
			continue
		}
		if prev == nil {
			n.firstChild = child.next
		} else {
			prev.next = child.next
		}
		child.next = nil
		n.modTime = now
		return child
	}
	return nil
}

func (n *node) copy() *node {
	cp := &node{
		name:       n.name,
		typ:        n.typ,
		modTime:    n.modTime,
		value:      n.value,
		executable: n.executable,
	}
	if n.data != nil {
		cp.data = append([]byte(nil), n.data...)
	}
	var last *node
	for child := n.firstChild; child != nil; child = child.next {
		c := child.copy()
		if last == nil {
			cp.firstChild = c
		} else {
			last.next = c
		}
		last = c
	}
	return cp
}

// FS is an in-memory tree. Every operation holds the tree's single
// lock.
type FS struct {
	mtx   sync.Mutex
	root  *node
	clock clock.Clock
}

// New returns an empty tree.
func New() *FS { return NewWithClock(nil) }

// NewWithClock returns an empty tree whose modification times come from clk
// (nil means the real clock).
func NewWithClock(clk clock.Clock) *FS {
	clk = clock.Or(clk)
	return &FS{clock: clk, root: &node{typ: vfs.TypeDir, modTime: clk.Now()}}
}

// Root returns the root directory of the tree.
func (fs *FS) Root(schemes *vfs.SchemeMap) *vfs.Path {
	return vfs.NewPath(fs, schemes, "/")
}

// CopyDeep returns an independent tree with the same content.
func (fs *FS) CopyDeep() *FS {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	return &FS{clock: fs.clock, root: fs.root.copy()}
}

func (fs *FS) Scheme() string { return "memory" }

func segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// lookupAll returns the node at path, or nil. Caller must hold lock.
func (fs *FS) lookupAll(path string) *node {
	n := fs.root
	for _, seg := range segments(path) {
		if n = n.lookup(seg); n == nil {
			return nil
		}
	}
	return n
}

// lookupParent returns the node containing path's tail, and the
// tail. Caller must hold lock.
func (fs *FS) lookupParent(path string) (*node, string) {
	segs := segments(path)
	if len(segs) == 0 {
		return nil, ""
	}
	n := fs.root
	for _, seg := range segs[:len(segs)-1] {
		if n = n.lookup(seg); n == nil {
			return nil, ""
		}
	}
	return n, segs[len(segs)-1]
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return vfs.FileInfo{}, ioerr.NotFound("stat", p.URL())
	}
	fi := vfs.FileInfo{
		Name:       n.name,
		Type:       n.typ,
		ModTime:    n.modTime,
		Executable: n.executable,
	}
	if n.typ == vfs.TypeFile {
		fi.Size = int64(len(n.data))
	}
	return fi, nil
}

func (fs *FS) CanRead(p *vfs.Path) bool {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	return fs.lookupAll(p.Path()) != nil
}

func (fs *FS) CanWrite(p *vfs.Path) bool {
	return fs.CanRead(p)
}

func (fs *FS) List(p *vfs.Path) ([]string, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return nil, ioerr.NotFound("list", p.URL())
	}
	var names []string
	for child := n.firstChild; child != nil; child = child.next {
		names = append(names, child.name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FS) Mkdir(p *vfs.Path) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	parent, tail := fs.lookupParent(p.Path())
	if parent == nil {
		if tail == "" && p.Path() == "/" {
			return ioerr.New(ioerr.KindIOFailure, "mkdir", p.URL(), ErrFileExists)
		}
		return ioerr.NotFound("mkdir", p.URL())
	}
	if parent.typ != vfs.TypeDir {
		return ioerr.New(ioerr.KindIOFailure, "mkdir", p.URL(), ErrNotADirectory)
	}
	if parent.lookup(tail) != nil {
		return ioerr.New(ioerr.KindIOFailure, "mkdir", p.URL(), ErrFileExists)
	}
	now := fs.clock.Now()
	parent.add(&node{name: tail, typ: vfs.TypeDir, modTime: now}, now)
	return nil
}

// Remove deletes a node. A directory with children is not removed.
func (fs *FS) Remove(p *vfs.Path) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	parent, tail := fs.lookupParent(p.Path())
	if parent == nil {
		return ioerr.NotFound("remove", p.URL())
	}
	child := parent.lookup(tail)
	if child == nil {
		return ioerr.NotFound("remove", p.URL())
	}
	if child.firstChild != nil {
		return ioerr.New(ioerr.KindIOFailure, "remove", p.URL(), ErrDirectoryNotEmpty)
	}
	parent.unlink(tail, fs.clock.Now())
	return nil
}

// Rename moves a node within the tree. The target must not exist and
// its parent must be a directory.
func (fs *FS) Rename(from, to *vfs.Path) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	oldParent, oldTail := fs.lookupParent(from.Path())
	if oldParent == nil || oldParent.lookup(oldTail) == nil {
		return ioerr.NotFound("rename", from.URL())
	}
	newParent, newTail := fs.lookupParent(to.Path())
	if newParent == nil {
		return ioerr.NotFound("rename", to.URL())
	}
	if newParent.typ != vfs.TypeDir {
		return ioerr.New(ioerr.KindIOFailure, "rename", to.URL(), ErrNotADirectory)
	}
	if newParent.lookup(newTail) != nil {
		return ioerr.New(ioerr.KindIOFailure, "rename", to.URL(), ErrFileExists)
	}
	if contains(oldParent.lookup(oldTail), newParent) {
		return ioerr.Errorf(ioerr.KindIOFailure, "rename", from.URL(), "cannot move a directory into itself")
	}
	now := fs.clock.Now()
	child := oldParent.unlink(oldTail, now)
	child.name = newTail
	newParent.add(child, now)
	return nil
}

// contains reports whether target is n or one of its descendants.
func contains(n, target *node) bool {
	if n == target {
		return true
	}
	for child := n.firstChild; child != nil; child = child.next {
		if contains(child, target) {
			return true
		}
	}
	return false
}

func (fs *FS) Truncate(p *vfs.Path, size int64) error {
	if size < 0 {
		return ioerr.Errorf(ioerr.KindUnsupported, "truncate", p.URL(), "negative size %d", size)
	}
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return ioerr.NotFound("truncate", p.URL())
	}
	if n.typ != vfs.TypeFile {
		return ioerr.New(ioerr.KindUnsupported, "truncate", p.URL(), ErrNotAFile)
	}
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	} else {
		n.data = append(n.data, make([]byte, size-int64(len(n.data)))...)
	}
	n.modTime = fs.clock.Now()
	return nil
}

func (fs *FS) SetExecutable(p *vfs.Path, exec bool) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return ioerr.NotFound("chmod", p.URL())
	}
	if n.typ == vfs.TypeObject {
		return ioerr.New(ioerr.KindUnsupported, "chmod", p.URL(), ErrNotAFile)
	}
	n.executable = exec
	return nil
}

func (fs *FS) Value(p *vfs.Path) (interface{}, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return nil, ioerr.NotFound("value", p.URL())
	}
	if n.typ != vfs.TypeObject {
		return nil, ioerr.New(ioerr.KindUnsupported, "value", p.URL(), ErrNotAnObject)
	}
	return n.value, nil
}

// SetValue creates an object node or replaces the value of an
// existing one.
func (fs *FS) SetValue(p *vfs.Path, v interface{}) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	parent, tail := fs.lookupParent(p.Path())
	if parent == nil {
		return ioerr.NotFound("set value", p.URL())
	}
	if parent.typ != vfs.TypeDir {
		return ioerr.New(ioerr.KindIOFailure, "set value", p.URL(), ErrNotADirectory)
	}
	now := fs.clock.Now()
	switch child := parent.lookup(tail); {
	case child == nil:
		parent.add(&node{name: tail, typ: vfs.TypeObject, value: v, modTime: now}, now)
	case child.typ == vfs.TypeObject:
		child.value = v
		child.modTime = now
	default:
		return ioerr.New(ioerr.KindIOFailure, "set value", p.URL(), ErrFileExists)
	}
	return nil
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := fs.lookupAll(p.Path())
	if n == nil {
		return nil, ioerr.NotFound("open", p.URL())
	}
	if n.typ != vfs.TypeFile {
		return nil, ioerr.New(ioerr.KindUnsupported, "open", p.URL(), ErrNotAFile)
	}
	return &stream{fs: fs, node: n, read: true}, nil
}

// OpenWrite replaces the file at p with an empty one, unless append
// is true and a file already exists there.
func (fs *FS) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n, err := fs.createFile("open for write", p, append)
	if err != nil {
		return nil, err
	}
	return &stream{fs: fs, node: n, write: true}, nil
}

// createFile returns the file node to write. Caller must hold lock.
func (fs *FS) createFile(op string, p *vfs.Path, keep bool) (*node, error) {
	parent, tail := fs.lookupParent(p.Path())
	if parent == nil {
		return nil, ioerr.NotFound(op, p.URL())
	}
	if parent.typ != vfs.TypeDir {
		return nil, ioerr.New(ioerr.KindIOFailure, op, p.URL(), ErrNotADirectory)
	}
	now := fs.clock.Now()
	child := parent.lookup(tail)
	switch {
	case child == nil:
	case child.typ != vfs.TypeFile:
		return nil, ioerr.New(ioerr.KindIOFailure, op, p.URL(), ErrNotAFile)
	case keep:
		child.modTime = now
		return child, nil
	default:
		parent.unlink(tail, now)
	}
	child = &node{name: tail, typ: vfs.TypeFile, data: []byte{}, modTime: now}
	parent.add(child, now)
	return child, nil
}

func (fs *FS) CreateNew(p *vfs.Path) (bool, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	parent, tail := fs.lookupParent(p.Path())
	if parent != nil && parent.lookup(tail) != nil {
		return false, nil
	}
	_, err := fs.createFile("create", p, false)
	return err == nil, err
}

// stream reads from or appends to a file node. Writes are visible to
// readers as soon as they are made.
type stream struct {
	vfs.NullStream
	fs     *FS
	node   *node
	off    int
	read   bool
	write  bool
	closed bool
}

func (s *stream) CanRead() bool  { return s.read }
func (s *stream) CanWrite() bool { return s.write }

func (s *stream) Read(p []byte) (int, error) {
	if !s.read {
		return s.NullStream.Read(p)
	}
	s.fs.mtx.Lock()
	defer s.fs.mtx.Unlock()
	if s.closed {
		return 0, ioerr.Closed("read", "memory:"+s.node.name)
	}
	if s.off >= len(s.node.data) {
		return 0, io.EOF
	}
	n := copy(p, s.node.data[s.off:])
	s.off += n
	return n, nil
}

func (s *stream) Write(p []byte) (int, error) {
	if !s.write {
		return s.NullStream.Write(p)
	}
	s.fs.mtx.Lock()
	defer s.fs.mtx.Unlock()
	if s.closed {
		return 0, ioerr.Closed("write", "memory:"+s.node.name)
	}
	s.node.data = append(s.node.data, p...)
	s.node.modTime = s.fs.clock.Now()
	return len(p), nil
}

func (s *stream) Available() int {
	s.fs.mtx.Lock()
	defer s.fs.mtx.Unlock()
	return len(s.node.data) - s.off
}

func (s *stream) SetPosition(pos int64) error {
	s.fs.mtx.Lock()
	defer s.fs.mtx.Unlock()
	switch {
	case pos < 0:
		s.off = 0
	case pos > int64(len(s.node.data)):
		s.off = len(s.node.data)
	default:
		s.off = int(pos)
	}
	return nil
}

func (s *stream) Close() error {
	s.fs.mtx.Lock()
	defer s.fs.mtx.Unlock()
	s.closed = true
	return nil
}
