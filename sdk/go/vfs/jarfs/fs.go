// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jarfs

import (
	"strings"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

// FS is the jar scheme root. Its paths are only placeholders: a URL
// naming an archive resolves to a path in that archive.
type FS struct {
	cache *Cache
}

func (fs *FS) Scheme() string { return "jar" }

func (fs *FS) Cache() *Cache { return fs.cache }

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	return vfs.FileInfo{}, ioerr.NotFound("stat", p.URL())
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return nil, ioerr.NotFound("open", p.URL())
}

// SchemeWalk parses "<container-url>!/<entry>". The container is
// resolved relative to parent. The last "!" separates the entry, so
// archives nested in archives can be addressed.
func (fs *FS) SchemeWalk(parent *vfs.Path, userPath, rest string, attrs vfs.Attributes) (*vfs.Path, error) {
	container, entry := rest, "/"
	if i := strings.LastIndexByte(rest, '!'); i >= 0 {
		container, entry = rest[:i], rest[i+1:]
	}
	if container == "" {
		return nil, ioerr.Errorf(ioerr.KindNotFound, "lookup", userPath, "missing archive URL")
	}
	backing, err := parent.Lookup(container, nil)
	if err != nil {
		return nil, err
	}
	j := fs.cache.Jar(backing)
	return parent.Derive(j.fs, vfs.Normalize("/", entry), userPath, "", attrs), nil
}

// archiveFS is the backend of paths inside one archive.
type archiveFS struct {
	jar *Jar
}

func (afs *archiveFS) Scheme() string { return "jar" }

func (afs *archiveFS) Jar() *Jar { return afs.jar }

func (afs *archiveFS) URL(p *vfs.Path) string {
	return "jar:" + afs.jar.backing.URL() + "!" + p.Path()
}

func (afs *archiveFS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	ent, err := afs.jar.stat(p.Path())
	if err != nil {
		return vfs.FileInfo{}, err
	}
	if ent == nil {
		return vfs.FileInfo{}, ioerr.NotFound("stat", p.URL())
	}
	fi := vfs.FileInfo{Name: p.Tail(), Type: vfs.TypeFile, Size: ent.size, ModTime: ent.modTime}
	if ent.dir {
		fi.Type = vfs.TypeDir
	}
	return fi, nil
}

func (afs *archiveFS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	return afs.jar.Open(p.Path())
}

func (afs *archiveFS) List(p *vfs.Path) ([]string, error) {
	return afs.jar.List(p.Path())
}

func (afs *archiveFS) Mkdir(p *vfs.Path) error {
	return ioerr.Unsupported("mkdir", p.URL())
}

// Dependencies returns a dependency on the archive file, which
// changes whenever any entry might.
func (afs *archiveFS) Dependencies(p *vfs.Path) vfs.Dependencies {
	return vfs.Dependencies{afs.jar.Depend()}
}

// JarOf returns the archive containing p, if p is a jar path.
func JarOf(p *vfs.Path) (*Jar, bool) {
	afs, ok := p.FS().(*archiveFS)
	if !ok {
		return nil, false
	}
	return afs.jar, true
}
