// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"time"
)

// Dependency reports whether something a cached value was derived
// from has changed.
type Dependency interface {
	IsModified() bool
}

// Depend is a Dependency on the fingerprint (modification time and
// length) of a path, captured when the Depend was created.
type Depend struct {
	path    *Path
	modTime time.Time
	length  int64
	exists  bool
}

// CreateDepend captures the current fingerprint of p.
func (p *Path) CreateDepend() *Depend {
	d := &Depend{path: p}
	if fi, err := p.Stat(); err == nil {
		d.exists = true
		d.modTime = fi.ModTime
		d.length = fi.Size
	}
	return d
}

func (d *Depend) Path() *Path { return d.path }

// IsModified reports whether the path's fingerprint differs from the
// captured one. Appearing or disappearing counts as a change.
func (d *Depend) IsModified() bool {
	fi, err := d.path.Stat()
	if err != nil {
		return d.exists
	}
	return !d.exists || !fi.ModTime.Equal(d.modTime) || fi.Size != d.length
}

func (d *Depend) String() string {
	return fmt.Sprintf("Depend[%s]", d.path.URL())
}

// Dependencies is modified when any member is.
type Dependencies []Dependency

func (ds Dependencies) IsModified() bool {
	for _, d := range ds {
		if d.IsModified() {
			return true
		}
	}
	return false
}
