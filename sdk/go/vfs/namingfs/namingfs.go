// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package namingfs is a hierarchical registry of named objects,
// exposed as the "naming" scheme. Contexts are directories and bound
// objects are object nodes; there is no byte content, so every
// stream operation is unsupported.
package namingfs

import (
	"errors"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/memfs"
)

var ErrAlreadyBound = errors.New("name already bound")

// FS is a naming tree. The zero value is not usable; use New.
type FS struct {
	tree *memfs.FS
}

func New() *FS {
	return NewWithClock(nil)
}

// NewWithClock returns an empty tree whose bindings are timestamped
// with clk.
func NewWithClock(clk clock.Clock) *FS {
	return &FS{tree: memfs.NewWithClock(clock.Or(clk))}
}

func (fs *FS) Scheme() string { return "naming" }

// Root returns the root context.
func (fs *FS) Root(schemes *vfs.SchemeMap) *vfs.Path {
	return vfs.NewPath(fs, schemes, "/")
}

func (fs *FS) path(name string) *vfs.Path {
	return vfs.NewPath(fs, nil, name)
}

// Bind binds value to name, creating intermediate contexts. It fails
// if name is already bound.
func (fs *FS) Bind(name string, value interface{}) error {
	p := fs.path(name)
	if p.Exists() {
		return ioerr.New(ioerr.KindIOFailure, "bind", p.URL(), ErrAlreadyBound)
	}
	return fs.Rebind(name, value)
}

// Rebind binds value to name, replacing an existing object binding.
func (fs *FS) Rebind(name string, value interface{}) error {
	p := fs.path(name)
	if err := p.Parent().Mkdirs(); err != nil {
		return err
	}
	return fs.tree.SetValue(p, value)
}

// Unbind removes the binding of name. A context can only be unbound
// when it is empty.
func (fs *FS) Unbind(name string) error {
	p := fs.path(name)
	if p.Path() == "/" {
		return ioerr.Unsupported("unbind", p.URL())
	}
	return fs.tree.Remove(p)
}

// Lookup returns the object bound to name.
func (fs *FS) Lookup(name string) (interface{}, error) {
	return fs.tree.Value(fs.path(name))
}

// CreateSubcontext creates an empty context.
func (fs *FS) CreateSubcontext(name string) error {
	return fs.tree.Mkdir(fs.path(name))
}

// Names returns the names bound directly in context name.
func (fs *FS) Names(name string) ([]string, error) {
	return fs.tree.List(fs.path(name))
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) { return fs.tree.Stat(p) }

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return nil, ioerr.Unsupported("open", p.URL())
}

func (fs *FS) List(p *vfs.Path) ([]string, error) { return fs.tree.List(p) }

func (fs *FS) Mkdir(p *vfs.Path) error { return fs.tree.Mkdir(p) }

func (fs *FS) Remove(p *vfs.Path) error { return fs.tree.Remove(p) }

func (fs *FS) Rename(from, to *vfs.Path) error { return fs.tree.Rename(from, to) }

func (fs *FS) Value(p *vfs.Path) (interface{}, error) { return fs.tree.Value(p) }

func (fs *FS) SetValue(p *vfs.Path, v interface{}) error { return fs.tree.SetValue(p, v) }

// CanRead reports whether p is bound; contexts and objects can be
// looked up but not streamed.
func (fs *FS) CanRead(p *vfs.Path) bool { return p.Exists() }

func (fs *FS) CanWrite(p *vfs.Path) bool { return false }
