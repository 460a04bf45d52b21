// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"sort"
	"strings"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
)

// Path is an immutable descriptor of a location in a backend. Paths
// hold no open resources; streams do.
type Path struct {
	fs       FS
	schemes  *SchemeMap
	path     string
	userPath string
	query    string
	attrs    Attributes
}

// NewPath returns the path named by path (normalized against "/") in
// fs. Scheme lookups from the new path use schemes.
func NewPath(fs FS, schemes *SchemeMap, path string) *Path {
	path = Normalize("/", path)
	return &Path{fs: fs, schemes: schemes, path: path, userPath: path}
}

// Derive returns a path sharing p's scheme map. Backends use it to
// build the results of SchemeWalk and Walk. The caller supplies an
// already-normalized path.
func (p *Path) Derive(fs FS, path, userPath, query string, attrs Attributes) *Path {
	return &Path{
		fs:       fs,
		schemes:  p.schemes,
		path:     path,
		userPath: userPath,
		query:    query,
		attrs:    attrs,
	}
}

func (p *Path) FS() FS                 { return p.fs }
func (p *Path) Schemes() *SchemeMap    { return p.schemes }
func (p *Path) Scheme() string         { return p.fs.Scheme() }
func (p *Path) Path() string           { return p.path }
func (p *Path) UserPath() string       { return p.userPath }
func (p *Path) Query() string          { return p.query }
func (p *Path) Attributes() Attributes { return p.attrs }

// Tail returns the last segment of the path.
func (p *Path) Tail() string { return Tail(p.path) }

// Parent returns the containing directory, or p itself at the root.
func (p *Path) Parent() *Path {
	if p.path == "/" {
		return p
	}
	dir := Dir(p.path)
	return p.Derive(p.fs, dir, dir, "", p.attrs)
}

// URL returns the canonical URL of p.
func (p *Path) URL() string {
	if u, ok := p.fs.(URLer); ok {
		return u.URL(p)
	}
	s := p.fs.Scheme() + ":" + p.path
	if p.query != "" {
		s += "?" + p.query
	}
	return s
}

func (p *Path) String() string { return p.URL() }

// Lookup resolves userPath relative to p. A "scheme:" prefix
// dispatches to that scheme's backend; an absolute path resolves
// against the root of p's backend; anything else resolves against p
// as a directory. An empty userPath returns p (with attrs added).
//
// An unregistered scheme returns an error matching
// ioerr.ErrUnknownScheme.
func (p *Path) Lookup(userPath string, attrs Attributes) (*Path, error) {
	attrs = p.attrs.Merge(attrs)
	if userPath == "" {
		return p.Derive(p.fs, p.path, p.userPath, p.query, attrs), nil
	}
	if scheme, rest, ok := ScanScheme(userPath); ok {
		fs, ok := p.schemes.Get(scheme)
		if !ok {
			return nil, ioerr.UnknownScheme(userPath)
		}
		if sw, ok := fs.(SchemeWalker); ok {
			return sw.SchemeWalk(p, userPath, rest, attrs)
		}
		rest, query := SplitQuery(rest)
		return p.Derive(fs, Normalize("/", rest), userPath, query, attrs), nil
	}
	if w, ok := p.fs.(Walker); ok {
		return w.Walk(p, userPath, attrs)
	}
	return p.Derive(p.fs, Normalize(p.path, userPath), userPath, "", attrs), nil
}

// LookupOrDead is like Lookup, but returns a dead path instead of an
// error.
func (p *Path) LookupOrDead(userPath string) *Path {
	np, err := p.Lookup(userPath, nil)
	if err != nil {
		return DeadPath(userPath)
	}
	return np
}

// Stat returns the node's metadata.
func (p *Path) Stat() (FileInfo, error) {
	return p.fs.Stat(p)
}

func (p *Path) statType() NodeType {
	fi, err := p.fs.Stat(p)
	if err != nil {
		return TypeNone
	}
	return fi.Type
}

func (p *Path) Exists() bool      { return p.statType() != TypeNone }
func (p *Path) IsDirectory() bool { return p.statType() == TypeDir }
func (p *Path) IsFile() bool      { return p.statType() == TypeFile }
func (p *Path) IsObject() bool    { return p.statType() == TypeObject }

// Length returns the size in bytes, 0 if the node does not exist, or
// -1 if the backend cannot tell.
func (p *Path) Length() int64 {
	fi, err := p.fs.Stat(p)
	if err != nil {
		return 0
	}
	return fi.Size
}

// LastModified returns the modification time, or the zero time if
// unknown or missing.
func (p *Path) LastModified() time.Time {
	fi, err := p.fs.Stat(p)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime
}

func (p *Path) CanRead() bool {
	if a, ok := p.fs.(AccessFS); ok {
		return a.CanRead(p)
	}
	return p.IsFile()
}

func (p *Path) CanWrite() bool {
	if a, ok := p.fs.(AccessFS); ok {
		return a.CanWrite(p)
	}
	_, ok := p.fs.(WriteFS)
	return ok
}

func (p *Path) IsExecutable() bool {
	fi, err := p.fs.Stat(p)
	return err == nil && fi.Executable
}

func (p *Path) SetExecutable(exec bool) error {
	e, ok := p.fs.(ExecFS)
	if !ok {
		return ioerr.Unsupported("chmod", p.URL())
	}
	return e.SetExecutable(p, exec)
}

// List returns the names of the entries of a directory.
func (p *Path) List() ([]string, error) {
	d, ok := p.fs.(DirFS)
	if !ok {
		return nil, ioerr.Unsupported("list", p.URL())
	}
	return d.List(p)
}

// Mkdir creates the directory p. Its parent must exist.
func (p *Path) Mkdir() error {
	d, ok := p.fs.(DirFS)
	if !ok {
		return ioerr.Unsupported("mkdir", p.URL())
	}
	return d.Mkdir(p)
}

// Mkdirs creates p and any missing parents.
func (p *Path) Mkdirs() error {
	d, ok := p.fs.(DirFS)
	if !ok {
		return ioerr.Unsupported("mkdir", p.URL())
	}
	var missing []*Path
	for q := p; q.path != "/"; q = q.Parent() {
		fi, err := q.Stat()
		if err == nil {
			if fi.Type != TypeDir {
				return ioerr.Errorf(ioerr.KindIOFailure, "mkdir", q.URL(), "not a directory")
			}
			break
		}
		missing = append(missing, q)
	}
	for i := len(missing) - 1; i >= 0; i-- {
		if err := d.Mkdir(missing[i]); err != nil && missing[i].statType() != TypeDir {
			return err
		}
	}
	return nil
}

// Remove deletes a file or an empty directory.
func (p *Path) Remove() error {
	r, ok := p.fs.(RemoveFS)
	if !ok {
		return ioerr.Unsupported("remove", p.URL())
	}
	return r.Remove(p)
}

// RemoveAll deletes p and everything beneath it. A missing p is not
// an error.
func (p *Path) RemoveAll() error {
	fi, err := p.Stat()
	if ioerr.Is(err, ioerr.KindNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	if fi.Type == TypeDir {
		names, err := p.List()
		if err != nil {
			return err
		}
		for _, name := range names {
			child, err := p.Lookup(escapeName(name), nil)
			if err != nil {
				return err
			}
			if err := child.RemoveAll(); err != nil {
				return err
			}
		}
	}
	return p.Remove()
}

// RenameTo moves p to target. Both paths must belong to the same
// backend instance.
func (p *Path) RenameTo(target *Path) error {
	r, ok := p.fs.(RenameFS)
	if !ok {
		return ioerr.Unsupported("rename", p.URL())
	}
	if target.fs != p.fs {
		return ioerr.Errorf(ioerr.KindUnsupported, "rename", p.URL(), "cannot rename to %s: different filesystem", target.URL())
	}
	return r.Rename(p, target)
}

// Truncate sets the length of a file. Backends without TruncateFS
// support truncation to 0 by reopening for write.
func (p *Path) Truncate(size int64) error {
	if size < 0 {
		return ioerr.Errorf(ioerr.KindUnsupported, "truncate", p.URL(), "negative size %d", size)
	}
	if t, ok := p.fs.(TruncateFS); ok {
		return t.Truncate(p, size)
	}
	if size == 0 {
		if w, ok := p.fs.(WriteFS); ok {
			s, err := w.OpenWrite(p, false)
			if err != nil {
				return err
			}
			return s.Close()
		}
	}
	return ioerr.Unsupported("truncate", p.URL())
}

// CreateNewFile creates an empty file, returning false if something
// already exists at p.
func (p *Path) CreateNewFile() (bool, error) {
	if c, ok := p.fs.(CreateFS); ok {
		return c.CreateNew(p)
	}
	w, ok := p.fs.(WriteFS)
	if !ok {
		return false, ioerr.Unsupported("create", p.URL())
	}
	if p.Exists() {
		return false, nil
	}
	s, err := w.OpenWrite(p, false)
	if err != nil {
		return false, err
	}
	return true, s.Close()
}

// Value returns the object stored at p.
func (p *Path) Value() (interface{}, error) {
	v, ok := p.fs.(ValueFS)
	if !ok {
		return nil, ioerr.Unsupported("value", p.URL())
	}
	return v.Value(p)
}

// SetValue stores an object at p.
func (p *Path) SetValue(obj interface{}) error {
	v, ok := p.fs.(ValueFS)
	if !ok {
		return ioerr.Unsupported("value", p.URL())
	}
	return v.SetValue(p, obj)
}

// Resources returns every existing node named name beneath p. Only
// overlay backends return more than one.
func (p *Path) Resources(name string) ([]*Path, error) {
	if r, ok := p.fs.(ResourceFS); ok {
		return r.Resources(p, name)
	}
	child, err := p.Lookup(name, nil)
	if err != nil {
		return nil, err
	}
	if !child.Exists() {
		return nil, nil
	}
	return []*Path{child}, nil
}

// NativePath returns the operating system path for p, or p's
// normalized path if the backend has none.
func (p *Path) NativePath() string {
	if n, ok := p.fs.(NativeFS); ok {
		return n.NativePath(p)
	}
	return p.path
}

// OpenReadImpl returns the unbuffered backend stream.
func (p *Path) OpenReadImpl() (StreamImpl, error) {
	return p.fs.OpenRead(p)
}

// OpenRead opens a buffered stream for reading.
func (p *Path) OpenRead() (*ReadStream, error) {
	s, err := p.fs.OpenRead(p)
	if err != nil {
		return nil, err
	}
	rs := NewReadStream(s, p.pool())
	rs.path = p
	return rs, nil
}

// OpenWrite opens a buffered stream that replaces the node's content.
func (p *Path) OpenWrite() (*WriteStream, error) {
	return p.openWrite(false)
}

// OpenAppend opens a buffered stream that appends to the node.
func (p *Path) OpenAppend() (*WriteStream, error) {
	return p.openWrite(true)
}

func (p *Path) openWrite(append bool) (*WriteStream, error) {
	w, ok := p.fs.(WriteFS)
	if !ok {
		return nil, ioerr.Unsupported("open for write", p.URL())
	}
	s, err := w.OpenWrite(p, append)
	if err != nil {
		return nil, err
	}
	ws := NewWriteStream(s, p.pool())
	ws.path = p
	return ws, nil
}

// OpenReadWrite opens both halves of a bidirectional stream. Reading
// flushes pending writes first. Closing the read half closes both.
func (p *Path) OpenReadWrite() (*ReadStream, *WriteStream, error) {
	rw, ok := p.fs.(ReadWriteFS)
	if !ok {
		return nil, nil, ioerr.Unsupported("open for read/write", p.URL())
	}
	s, err := rw.OpenReadWrite(p)
	if err != nil {
		return nil, nil, err
	}
	rs, ws := ReadWritePair(s, p.pool())
	rs.path, ws.path = p, p
	return rs, ws, nil
}

// ListPaths returns the children of a directory as paths, sorted by
// name.
func (p *Path) ListPaths() ([]*Path, error) {
	names, err := p.List()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	paths := make([]*Path, 0, len(names))
	for _, name := range names {
		child, err := p.Lookup(escapeName(name), nil)
		if err != nil {
			return nil, err
		}
		paths = append(paths, child)
	}
	return paths, nil
}

// escapeName keeps a directory entry containing ':' from being
// parsed as a scheme.
func escapeName(name string) string {
	if _, _, ok := ScanScheme(name); ok {
		return "./" + name
	}
	return name
}

func (p *Path) pool() *tempbuf.Pool {
	return p.schemes.Pools().Get(tempbuf.Standard)
}

// IsAncestorOf reports whether q is p or lies beneath p in the same
// backend.
func (p *Path) IsAncestorOf(q *Path) bool {
	if p.fs != q.fs {
		return false
	}
	if p.path == "/" || p.path == q.path {
		return true
	}
	return strings.HasPrefix(q.path, strings.TrimSuffix(p.path, "/")+"/")
}
