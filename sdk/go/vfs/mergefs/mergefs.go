// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package mergefs overlays an ordered list of backing paths, like a
// search path. Reads resolve to the first backing path where a name
// exists; writes always go to the first backing path.
//
//	p, err := root.Lookup("merge:(../custom-foo;foo)", nil)
package mergefs

import (
	"sort"
	"strings"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

// FS is one merge root. Paths derived from it share its backing
// list.
type FS struct {
	mtx   sync.RWMutex
	paths []*vfs.Path
}

// New returns a merge root over the given backing paths, in priority
// order.
func New(paths ...*vfs.Path) *FS {
	fs := &FS{}
	for _, p := range paths {
		fs.AddMergePath(p)
	}
	return fs
}

// Root returns the root of the merge tree.
func (fs *FS) Root(schemes *vfs.SchemeMap) *vfs.Path {
	return vfs.NewPath(fs, schemes, "/")
}

func (fs *FS) Scheme() string { return "merge" }

// AddMergePath appends p to the backing list unless an equivalent
// path is already present. A path inside another merge tree adds
// each of that tree's backing paths, resolved to p's location.
func (fs *FS) AddMergePath(p *vfs.Path) {
	if other, ok := p.FS().(*FS); ok {
		if other == fs {
			return
		}
		rel := relative(p)
		for _, sub := range other.MergePaths() {
			if child, err := sub.Lookup(rel, nil); err == nil {
				fs.AddMergePath(child)
			}
		}
		return
	}
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	url := p.URL()
	for _, have := range fs.paths {
		if have.URL() == url {
			return
		}
	}
	fs.paths = append(fs.paths, p)
}

// MergePaths returns a copy of the backing list.
func (fs *FS) MergePaths() []*vfs.Path {
	fs.mtx.RLock()
	defer fs.mtx.RUnlock()
	return append([]*vfs.Path(nil), fs.paths...)
}

// resolve returns p's location within each backing path.
func (fs *FS) resolve(p *vfs.Path) []*vfs.Path {
	rel := relative(p)
	var out []*vfs.Path
	for _, base := range fs.MergePaths() {
		if rp, err := base.Lookup(rel, p.Attributes()); err == nil {
			out = append(out, rp)
		}
	}
	return out
}

// relative returns p's path in a form that resolves beneath a
// backing path.
func relative(p *vfs.Path) string {
	if p.Path() == "/" {
		return ""
	}
	return "." + p.Path()
}

// BestPath returns the first backing location of p that exists, or
// the write path if none does.
func (fs *FS) BestPath(p *vfs.Path) *vfs.Path {
	candidates := fs.resolve(p)
	for _, rp := range candidates {
		if rp.Exists() {
			return rp
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return vfs.DeadPath(p.UserPath())
}

// WritePath returns p's location in the first backing path.
func (fs *FS) WritePath(p *vfs.Path) *vfs.Path {
	fs.mtx.RLock()
	var first *vfs.Path
	if len(fs.paths) > 0 {
		first = fs.paths[0]
	}
	fs.mtx.RUnlock()
	if first == nil {
		return vfs.DeadPath(p.UserPath())
	}
	rp, err := first.Lookup(relative(p), p.Attributes())
	if err != nil {
		return vfs.DeadPath(p.UserPath())
	}
	return rp
}

// SchemeWalk parses "(a;b;...)" into a new merge root, then resolves
// anything after the closing parenthesis within it. Other forms are
// resolved within fs. An unbalanced list yields a dead path.
func (fs *FS) SchemeWalk(parent *vfs.Path, userPath, rest string, attrs vfs.Attributes) (*vfs.Path, error) {
	if !strings.HasPrefix(rest, "(") {
		rest, query := vfs.SplitQuery(rest)
		return parent.Derive(fs, vfs.Normalize("/", rest), userPath, query, attrs), nil
	}
	members, tail, ok := splitList(rest)
	if !ok {
		return vfs.DeadPath(userPath), nil
	}
	merged := &FS{}
	for _, member := range members {
		var sub *vfs.Path
		var err error
		if strings.HasPrefix(member, "(") {
			// nested group: a merge root of its own, flattened
			sub, err = merged.SchemeWalk(parent, member, member, nil)
		} else {
			sub, err = parent.Lookup(member, nil)
		}
		if err != nil {
			return nil, err
		}
		if sub.IsDead() {
			return sub, nil
		}
		merged.AddMergePath(sub)
	}
	return parent.Derive(merged, vfs.Normalize("/", tail), userPath, "", attrs), nil
}

// splitList splits "(a;b;(c;d))rest" into its top-level members and
// the text following the closing parenthesis.
func splitList(s string) (members []string, tail string, ok bool) {
	depth := 0
	start := 1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				if m := s[start:i]; m != "" {
					members = append(members, m)
				}
				return members, s[i+1:], true
			}
		case ';':
			if depth == 1 {
				if m := s[start:i]; m != "" {
					members = append(members, m)
				}
				start = i + 1
			}
		}
	}
	return nil, "", false
}

// Walk resolves an absolute userPath against the backing path with
// the longest matching prefix, so a name obtained from a backing
// path maps back into the merge tree. If no backing path matches,
// the name resolves in the first backing path.
func (fs *FS) Walk(parent *vfs.Path, userPath string, attrs vfs.Attributes) (*vfs.Path, error) {
	paths := fs.MergePaths()
	if !strings.HasPrefix(userPath, "/") || len(paths) == 0 {
		return parent.Derive(fs, vfs.Normalize(parent.Path(), userPath), userPath, "", attrs), nil
	}
	path := vfs.Normalize("/", userPath)
	best := ""
	found := false
	for _, bp := range paths {
		prefix := bp.Path()
		if !hasPathPrefix(path, prefix) {
			continue
		}
		if !found || len(prefix) > len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return paths[0].Lookup(userPath, attrs)
	}
	rest := strings.TrimPrefix(path, best)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return parent.Derive(fs, rest, userPath, "", attrs), nil
}

func hasPathPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

func (fs *FS) URL(p *vfs.Path) string {
	if len(fs.MergePaths()) == 0 {
		return "merge:" + p.Path()
	}
	if best := fs.BestPath(p); best.Exists() {
		return best.URL()
	}
	return fs.WritePath(p).URL()
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return fs.BestPath(p).Stat()
}

func (fs *FS) CanRead(p *vfs.Path) bool  { return fs.BestPath(p).CanRead() }
func (fs *FS) CanWrite(p *vfs.Path) bool { return fs.BestPath(p).CanWrite() }

func (fs *FS) NativePath(p *vfs.Path) string {
	return fs.BestPath(p).NativePath()
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return fs.BestPath(p).OpenReadImpl()
}

func (fs *FS) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	wp := fs.WritePath(p)
	w, ok := wp.FS().(vfs.WriteFS)
	if !ok {
		return nil, ioerr.Unsupported("open for write", wp.URL())
	}
	return w.OpenWrite(wp, append)
}

func (fs *FS) OpenReadWrite(p *vfs.Path) (vfs.StreamImpl, error) {
	wp := fs.WritePath(p)
	rw, ok := wp.FS().(vfs.ReadWriteFS)
	if !ok {
		return nil, ioerr.Unsupported("open for read/write", wp.URL())
	}
	return rw.OpenReadWrite(wp)
}

func (fs *FS) CreateNew(p *vfs.Path) (bool, error) {
	if fs.BestPath(p).Exists() {
		return false, nil
	}
	return fs.WritePath(p).CreateNewFile()
}

// List returns the union of the directory listings of every backing
// path.
func (fs *FS) List(p *vfs.Path) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	dirs := 0
	for _, rp := range fs.resolve(p) {
		if !rp.IsDirectory() {
			continue
		}
		dirs++
		sub, err := rp.List()
		if err != nil {
			return nil, err
		}
		for _, name := range sub {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	if dirs == 0 && !fs.BestPath(p).Exists() {
		return nil, ioerr.NotFound("list", p.URL())
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FS) Mkdir(p *vfs.Path) error {
	return fs.WritePath(p).Mkdir()
}

func (fs *FS) Remove(p *vfs.Path) error {
	return fs.BestPath(p).Remove()
}

// Rename moves the best location of from to the write location of to.
func (fs *FS) Rename(from, to *vfs.Path) error {
	return fs.BestPath(from).RenameTo(fs.WritePath(to))
}

func (fs *FS) Truncate(p *vfs.Path, size int64) error {
	return fs.BestPath(p).Truncate(size)
}

func (fs *FS) SetExecutable(p *vfs.Path, exec bool) error {
	return fs.BestPath(p).SetExecutable(exec)
}

func (fs *FS) Value(p *vfs.Path) (interface{}, error) {
	return fs.BestPath(p).Value()
}

func (fs *FS) SetValue(p *vfs.Path, v interface{}) error {
	return fs.WritePath(p).SetValue(v)
}

// Resources returns every existing match for name beneath p, across
// all backing paths, without duplicates.
func (fs *FS) Resources(p *vfs.Path, name string) ([]*vfs.Path, error) {
	seen := map[string]bool{}
	var out []*vfs.Path
	for _, rp := range fs.resolve(p) {
		found, err := rp.Resources(name)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if url := f.URL(); !seen[url] {
				seen[url] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// Dependencies returns a change fingerprint for p in every backing
// path, so adding a higher-priority copy is detected.
func (fs *FS) Dependencies(p *vfs.Path) vfs.Dependencies {
	var deps vfs.Dependencies
	for _, rp := range fs.resolve(p) {
		deps = append(deps, rp.CreateDepend())
	}
	return deps
}
