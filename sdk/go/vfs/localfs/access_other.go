// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package localfs

import (
	"os"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
)

func (fs *FS) CanRead(p *vfs.Path) bool {
	f, err := os.Open(fs.NativePath(p))
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func (fs *FS) CanWrite(p *vfs.Path) bool {
	fi, err := os.Stat(fs.NativePath(p))
	if os.IsNotExist(err) {
		fi, err = os.Stat(fs.NativePath(p.Parent()))
	}
	return err == nil && fi.Mode().Perm()&0200 != 0
}

func (fs *FS) DiskSpace(p *vfs.Path) (free, total uint64, err error) {
	return 0, 0, ioerr.Unsupported("statfs", p.URL())
}
