// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package localfs is the "file" backend: paths map to operating
// system files.
package localfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/prometheus/client_golang/prometheus"
)

// FS is the local file backend. All paths are resolved beneath Root
// ("" means the real filesystem root).
type FS struct {
	root  string
	sep   byte
	stats opsStats
}

// Config configures a local backend.
type Config struct {
	// Root confines the backend to a directory. Empty means "/".
	Root string
	// Separator is accepted in addition to '/' in user paths.
	// Zero means os.PathSeparator.
	Separator byte
	// Registerer, if not nil, receives operation counters.
	Registerer prometheus.Registerer
}

// New returns a local backend.
func New(cfg Config) *FS {
	fs := &FS{root: strings.TrimSuffix(cfg.Root, string(os.PathSeparator)), sep: cfg.Separator}
	if fs.sep == 0 {
		fs.sep = os.PathSeparator
	}
	fs.stats.init(cfg.Registerer)
	return fs
}

func (fs *FS) Scheme() string { return "file" }

// Walk resolves userPath with the platform separator and drive
// letters.
func (fs *FS) Walk(parent *vfs.Path, userPath string, attrs vfs.Attributes) (*vfs.Path, error) {
	if isDrive(userPath) {
		userPath = "/" + userPath
	}
	return parent.Derive(fs, vfs.NormalizeSep(parent.Path(), userPath, fs.sep), userPath, "", attrs), nil
}

// SchemeWalk handles "file:/abs", "file:///abs" and "file:c:/x".
func (fs *FS) SchemeWalk(parent *vfs.Path, userPath, rest string, attrs vfs.Attributes) (*vfs.Path, error) {
	rest = strings.TrimLeft(rest, "/")
	if fs.sep != '/' {
		rest = strings.TrimLeft(rest, string(fs.sep))
	}
	return parent.Derive(fs, vfs.NormalizeSep("/", "/"+rest, fs.sep), userPath, "", attrs), nil
}

func isDrive(s string) bool {
	return len(s) >= 2 && s[1] == ':' && ('a' <= s[0] && s[0] <= 'z' || 'A' <= s[0] && s[0] <= 'Z')
}

// NativePath maps "/c:/x" to `c:\x` on Windows-style separators and
// prefixes the configured root.
func (fs *FS) NativePath(p *vfs.Path) string {
	path := p.Path()
	if fs.sep == '\\' && len(path) >= 3 && isDrive(path[1:]) {
		path = path[1:]
	}
	if fs.sep != '/' {
		path = strings.ReplaceAll(path, "/", string(fs.sep))
	}
	if fs.root == "" {
		return path
	}
	return fs.root + path
}

func (fs *FS) URL(p *vfs.Path) string {
	return "file:" + p.Path()
}

func (fs *FS) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	fs.stats.tick("stat")
	fi, err := os.Stat(fs.NativePath(p))
	if err != nil {
		fs.stats.tickErr(err)
		return vfs.FileInfo{}, ioerr.FromOS("stat", p.URL(), err)
	}
	return fileInfo(fi), nil
}

func fileInfo(fi os.FileInfo) vfs.FileInfo {
	info := vfs.FileInfo{
		Name:       fi.Name(),
		Type:       vfs.TypeFile,
		Size:       fi.Size(),
		ModTime:    fi.ModTime(),
		Executable: fi.Mode()&0111 != 0,
	}
	if fi.IsDir() {
		info.Type = vfs.TypeDir
		info.Executable = false
	}
	return info
}

func (fs *FS) openFile(op string, p *vfs.Path, flag int) (*fileStream, error) {
	fs.stats.tick("open")
	f, err := os.OpenFile(fs.NativePath(p), flag, 0666)
	if err != nil {
		fs.stats.tickErr(err)
		return nil, ioerr.FromOS(op, p.URL(), err)
	}
	acc := flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR)
	return &fileStream{
		f:     f,
		url:   p.URL(),
		read:  acc == os.O_RDONLY || acc == os.O_RDWR,
		write: acc == os.O_WRONLY || acc == os.O_RDWR,
		stats: &fs.stats,
	}, nil
}

func (fs *FS) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	if fi, err := os.Stat(fs.NativePath(p)); err == nil && fi.IsDir() {
		return nil, ioerr.Errorf(ioerr.KindUnsupported, "open", p.URL(), "is a directory")
	}
	return fs.openFile("open", p, os.O_RDONLY)
}

func (fs *FS) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if append {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	return fs.openFile("open for write", p, flag)
}

func (fs *FS) OpenReadWrite(p *vfs.Path) (vfs.StreamImpl, error) {
	return fs.openFile("open for read/write", p, os.O_RDWR|os.O_CREATE)
}

func (fs *FS) CreateNew(p *vfs.Path) (bool, error) {
	s, err := fs.openFile("create", p, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, s.Close()
}

func (fs *FS) List(p *vfs.Path) ([]string, error) {
	fs.stats.tick("readdir")
	ents, err := os.ReadDir(fs.NativePath(p))
	if err != nil {
		fs.stats.tickErr(err)
		return nil, ioerr.FromOS("list", p.URL(), err)
	}
	names := make([]string, len(ents))
	for i, ent := range ents {
		names[i] = ent.Name()
	}
	return names, nil
}

func (fs *FS) Mkdir(p *vfs.Path) error {
	fs.stats.tick("mkdir")
	err := os.Mkdir(fs.NativePath(p), 0777)
	fs.stats.tickErr(err)
	return ioerr.FromOS("mkdir", p.URL(), err)
}

func (fs *FS) Remove(p *vfs.Path) error {
	fs.stats.tick("remove")
	err := os.Remove(fs.NativePath(p))
	fs.stats.tickErr(err)
	return ioerr.FromOS("remove", p.URL(), err)
}

func (fs *FS) Rename(from, to *vfs.Path) error {
	fs.stats.tick("rename")
	err := os.Rename(fs.NativePath(from), fs.NativePath(to))
	fs.stats.tickErr(err)
	return ioerr.FromOS("rename", from.URL(), err)
}

func (fs *FS) Truncate(p *vfs.Path, size int64) error {
	fs.stats.tick("truncate")
	err := os.Truncate(fs.NativePath(p), size)
	fs.stats.tickErr(err)
	return ioerr.FromOS("truncate", p.URL(), err)
}

func (fs *FS) SetExecutable(p *vfs.Path, exec bool) error {
	name := fs.NativePath(p)
	fi, err := os.Stat(name)
	if err != nil {
		return ioerr.FromOS("chmod", p.URL(), err)
	}
	mode := fi.Mode().Perm()
	if exec {
		mode |= 0111 & (mode >> 2)
		mode |= 0100
	} else {
		mode &^= 0111
	}
	fs.stats.tick("chmod")
	err = os.Chmod(name, mode)
	fs.stats.tickErr(err)
	return ioerr.FromOS("chmod", p.URL(), err)
}

// Pwd returns the process working directory as a normalized path.
func Pwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "/"
	}
	wd = filepath.ToSlash(wd)
	if isDrive(wd) {
		wd = "/" + wd
	}
	return vfs.Normalize("/", wd)
}

// fileStream is an open file.
type fileStream struct {
	f     *os.File
	url   string
	read  bool
	write bool
	stats *opsStats

	closeOnce sync.Once
	closeErr  error
}

func (s *fileStream) CanRead() bool  { return s.read }
func (s *fileStream) CanWrite() bool { return s.write }

func (s *fileStream) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	s.stats.tickIn(n)
	if err != nil && err != io.EOF {
		return n, ioerr.FromOS("read", s.url, err)
	}
	return n, err
}

func (s *fileStream) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.stats.tickOut(n)
	if err != nil {
		return n, ioerr.FromOS("write", s.url, err)
	}
	return n, nil
}

func (s *fileStream) Flush() error {
	if !s.write {
		return nil
	}
	return ioerr.FromOS("sync", s.url, s.f.Sync())
}

func (s *fileStream) SetPosition(pos int64) error {
	_, err := s.f.Seek(pos, io.SeekStart)
	return ioerr.FromOS("seek", s.url, err)
}

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = ioerr.FromOS("close", s.url, s.f.Close())
	})
	return s.closeErr
}
