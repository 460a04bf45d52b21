// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import "github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"

// deadFS answers NotFound to everything.
type deadFS struct{}

func (deadFS) Scheme() string { return "notfound" }

func (deadFS) Stat(p *Path) (FileInfo, error) {
	return FileInfo{}, ioerr.NotFound("stat", p.userPath)
}

func (deadFS) OpenRead(p *Path) (StreamImpl, error) {
	return nil, ioerr.NotFound("open", p.userPath)
}

func (deadFS) URL(p *Path) string { return "notfound:" + p.userPath }

// DeadPath returns a placeholder path that does not exist. Callers
// that cannot resolve a name use it instead of propagating the error.
func DeadPath(userPath string) *Path {
	return &Path{fs: deadFS{}, path: "/", userPath: userPath}
}

// IsDead reports whether p is a placeholder returned by DeadPath or
// LookupOrDead.
func (p *Path) IsDead() bool {
	_, ok := p.fs.(deadFS)
	return ok
}
