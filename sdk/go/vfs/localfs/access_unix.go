// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package localfs

import (
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"golang.org/x/sys/unix"
)

// CanRead reports whether the process may read the file, using
// access(2) so that ACLs and effective ids are honored.
func (fs *FS) CanRead(p *vfs.Path) bool {
	return unix.Access(fs.NativePath(p), unix.R_OK) == nil
}

// CanWrite reports whether the process may write the file, or
// create it if it does not exist.
func (fs *FS) CanWrite(p *vfs.Path) bool {
	name := fs.NativePath(p)
	err := unix.Access(name, unix.W_OK)
	if err == unix.ENOENT {
		return unix.Access(fs.NativePath(p.Parent()), unix.W_OK|unix.X_OK) == nil
	}
	return err == nil
}

// DiskSpace returns the free and total bytes of the filesystem
// holding p.
func (fs *FS) DiskSpace(p *vfs.Path) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(fs.NativePath(p), &st); err != nil {
		return 0, 0, ioerr.FromOS("statfs", p.URL(), err)
	}
	return st.Bavail * uint64(st.Bsize), st.Blocks * uint64(st.Bsize), nil
}
