// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package bindfs overlays bind mounts on a base path. Each bound
// directory replaces the backing path for everything beneath it;
// unbound names resolve through the nearest bound ancestor.
package bindfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

type trieNode struct {
	children map[string]*trieNode
	backing  *vfs.Path
}

func (n *trieNode) child(name string, create bool) *trieNode {
	if c := n.children[name]; c != nil || !create {
		return c
	}
	if n.children == nil {
		n.children = map[string]*trieNode{}
	}
	c := &trieNode{}
	n.children[name] = c
	return c
}

// FS is a bind overlay. The root is bound to the base path given to
// New.
type FS struct {
	mtx  sync.RWMutex
	root trieNode
}

func New(base *vfs.Path) *FS {
	return &FS{root: trieNode{backing: base}}
}

// Root returns the root of the overlay.
func (fs *FS) Root(schemes *vfs.SchemeMap) *vfs.Path {
	return vfs.NewPath(fs, schemes, "/")
}

func (fs *FS) Scheme() string { return "bind" }

func segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// Bind makes backing serve path and everything beneath it. An
// existing binding at path is replaced.
func (fs *FS) Bind(path string, backing *vfs.Path) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	n := &fs.root
	for _, seg := range segments(vfs.Normalize("/", path)) {
		n = n.child(seg, true)
	}
	n.backing = backing
}

// Unbind removes the binding at path, so names beneath it resolve
// through the nearest bound ancestor again. The root binding cannot
// be removed.
func (fs *FS) Unbind(path string) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	segs := segments(vfs.Normalize("/", path))
	if len(segs) == 0 {
		return ioerr.Errorf(ioerr.KindUnsupported, "unbind", path, "cannot unbind the root")
	}
	trail := []*trieNode{&fs.root}
	for _, seg := range segs {
		n := trail[len(trail)-1].child(seg, false)
		if n == nil {
			return ioerr.NotFound("unbind", path)
		}
		trail = append(trail, n)
	}
	if trail[len(trail)-1].backing == nil {
		return ioerr.NotFound("unbind", path)
	}
	trail[len(trail)-1].backing = nil
	// prune nodes that no longer lead to a binding
	for i := len(trail) - 1; i > 0; i-- {
		n := trail[i]
		if n.backing != nil || len(n.children) > 0 {
			break
		}
		delete(trail[i-1].children, segs[i-1])
	}
	return nil
}

// Bindings returns the bound paths, sorted.
func (fs *FS) Bindings() []string {
	fs.mtx.RLock()
	defer fs.mtx.RUnlock()
	var out []string
	var walk func(n *trieNode, prefix string)
	walk = func(n *trieNode, prefix string) {
		if n.backing != nil {
			if prefix == "" {
				out = append(out, "/")
			} else {
				out = append(out, prefix)
			}
		}
		for name, c := range n.children {
			walk(c, prefix+"/"+name)
		}
	}
	walk(&fs.root, "")
	sort.Strings(out)
	return out
}

// Target returns the backing location of p: the remainder of p's
// path below its nearest bound ancestor, resolved in that ancestor's
// backing path.
func (fs *FS) Target(p *vfs.Path) *vfs.Path {
	segs := segments(p.Path())
	fs.mtx.RLock()
	n := &fs.root
	backing, depth := n.backing, 0
	for i, seg := range segs {
		if n = n.child(seg, false); n == nil {
			break
		}
		if n.backing != nil {
			backing, depth = n.backing, i+1
		}
	}
	fs.mtx.RUnlock()
	if depth == len(segs) {
		return backing
	}
	rest := "./" + strings.Join(segs[depth:], "/")
	if strings.HasSuffix(p.Path(), "/") {
		rest += "/"
	}
	target, err := backing.Lookup(rest, p.Attributes())
	if err != nil {
		return vfs.DeadPath(p.UserPath())
	}
	return target
}

// mountNames returns the names of trie children of p that lead to a
// binding. They show up in listings even if the backing directory
// lacks them.
func (fs *FS) mountNames(p *vfs.Path) []string {
	fs.mtx.RLock()
	defer fs.mtx.RUnlock()
	n := &fs.root
	for _, seg := range segments(p.Path()) {
		if n = n.child(seg, false); n == nil {
			return nil
		}
	}
	var names []string
	for name := range n.children {
		names = append(names, name)
	}
	return names
}

func (fs *FS) URL(p *vfs.Path) string { return fs.Target(p).URL() }

// Stat reports the target's metadata. A directory on the path to a
// binding exists even if no backing path has it.
func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	fi, err := fs.Target(p).Stat()
	if ioerr.Is(err, ioerr.KindNotFound) && len(fs.mountNames(p)) > 0 {
		return vfs.FileInfo{Name: p.Tail(), Type: vfs.TypeDir}, nil
	}
	return fi, err
}

func (fs *FS) CanRead(p *vfs.Path) bool  { return fs.Target(p).CanRead() }
func (fs *FS) CanWrite(p *vfs.Path) bool { return fs.Target(p).CanWrite() }

func (fs *FS) NativePath(p *vfs.Path) string { return fs.Target(p).NativePath() }

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return fs.Target(p).OpenReadImpl()
}

func (fs *FS) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	t := fs.Target(p)
	w, ok := t.FS().(vfs.WriteFS)
	if !ok {
		return nil, ioerr.Unsupported("open for write", t.URL())
	}
	return w.OpenWrite(t, append)
}

func (fs *FS) OpenReadWrite(p *vfs.Path) (vfs.StreamImpl, error) {
	t := fs.Target(p)
	rw, ok := t.FS().(vfs.ReadWriteFS)
	if !ok {
		return nil, ioerr.Unsupported("open for read/write", t.URL())
	}
	return rw.OpenReadWrite(t)
}

func (fs *FS) CreateNew(p *vfs.Path) (bool, error) {
	return fs.Target(p).CreateNewFile()
}

// List merges the target's listing with the names of bindings
// directly beneath p.
func (fs *FS) List(p *vfs.Path) ([]string, error) {
	mounts := fs.mountNames(p)
	names, err := fs.Target(p).List()
	if err != nil && (len(mounts) == 0 || !ioerr.Is(err, ioerr.KindNotFound)) {
		return nil, err
	}
	seen := map[string]bool{}
	for _, name := range names {
		seen[name] = true
	}
	for _, name := range mounts {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FS) Mkdir(p *vfs.Path) error  { return fs.Target(p).Mkdir() }
func (fs *FS) Remove(p *vfs.Path) error { return fs.Target(p).Remove() }

func (fs *FS) Rename(from, to *vfs.Path) error {
	return fs.Target(from).RenameTo(fs.Target(to))
}

func (fs *FS) Truncate(p *vfs.Path, size int64) error {
	return fs.Target(p).Truncate(size)
}

func (fs *FS) SetExecutable(p *vfs.Path, exec bool) error {
	return fs.Target(p).SetExecutable(exec)
}

func (fs *FS) Value(p *vfs.Path) (interface{}, error) { return fs.Target(p).Value() }

func (fs *FS) SetValue(p *vfs.Path, v interface{}) error {
	return fs.Target(p).SetValue(v)
}

func (fs *FS) Resources(p *vfs.Path, name string) ([]*vfs.Path, error) {
	return fs.Target(p).Resources(name)
}
