// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

func (s *Store) Scheme() string { return "blob" }

func (s *Store) Stat(p *vfs.Path) (vfs.FileInfo, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("stat", p.URL()); err != nil {
		return vfs.FileInfo{}, err
	}
	key := p.Path()
	if ent, ok := s.entries[key]; ok {
		return vfs.FileInfo{Name: p.Tail(), Type: vfs.TypeFile, Size: ent.Size, ModTime: ent.ModTime}, nil
	}
	if s.isDirLocked(key) {
		return vfs.FileInfo{Name: p.Tail(), Type: vfs.TypeDir, ModTime: s.dirs[key]}, nil
	}
	return vfs.FileInfo{}, ioerr.NotFound("stat", p.URL())
}

// List returns the names of the files and directories directly
// beneath p.
func (s *Store) List(p *vfs.Path) ([]string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("list", p.URL()); err != nil {
		return nil, err
	}
	key := p.Path()
	if _, ok := s.entries[key]; ok {
		return nil, nil
	}
	if !s.isDirLocked(key) {
		return nil, ioerr.NotFound("list", p.URL())
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	seen := map[string]bool{}
	add := func(k string) {
		if !strings.HasPrefix(k, prefix) {
			return
		}
		name := k[len(prefix):]
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			seen[name] = true
		}
	}
	for k := range s.entries {
		add(k)
	}
	for k := range s.dirs {
		add(k)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Mkdir(p *vfs.Path) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("mkdir", p.URL()); err != nil {
		return err
	}
	key := p.Path()
	if _, ok := s.entries[key]; ok || s.isDirLocked(key) {
		return ioerr.New(ioerr.KindIOFailure, "mkdir", p.URL(), ErrFileExists)
	}
	if parent := vfs.Dir(key); !s.isDirLocked(parent) {
		if _, ok := s.entries[parent]; ok {
			return ioerr.New(ioerr.KindIOFailure, "mkdir", p.URL(), ErrNotADirectory)
		}
		return ioerr.NotFound("mkdir", p.URL())
	}
	s.dirs[key] = s.clock.Now()
	return s.saveLocked()
}

// Remove deletes a file or an empty directory. The blob stays on
// disk until GC.
func (s *Store) Remove(p *vfs.Path) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("remove", p.URL()); err != nil {
		return err
	}
	key := p.Path()
	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		return s.saveLocked()
	}
	if key == "/" || !s.isDirLocked(key) {
		return ioerr.NotFound("remove", p.URL())
	}
	if s.hasChildrenLocked(key) {
		return ioerr.New(ioerr.KindIOFailure, "remove", p.URL(), ErrDirectoryNotEmpty)
	}
	delete(s.dirs, key)
	return s.saveLocked()
}

// Rename moves a file, or a directory with everything beneath it.
// The target must not exist.
func (s *Store) Rename(from, to *vfs.Path) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("rename", from.URL()); err != nil {
		return err
	}
	src, dst := from.Path(), to.Path()
	if _, ok := s.entries[dst]; ok || s.isDirLocked(dst) {
		return ioerr.New(ioerr.KindIOFailure, "rename", to.URL(), ErrFileExists)
	}
	if ent, ok := s.entries[src]; ok {
		delete(s.entries, src)
		ent.ModTime = s.clock.Now()
		s.entries[dst] = ent
		return s.saveLocked()
	}
	if src == "/" || !s.isDirLocked(src) {
		return ioerr.NotFound("rename", from.URL())
	}
	if strings.HasPrefix(dst, src+"/") {
		return ioerr.Errorf(ioerr.KindIOFailure, "rename", to.URL(), "cannot move %s into itself", src)
	}
	prefix := src + "/"
	moved := map[string]indexEntry{}
	for k, ent := range s.entries {
		if strings.HasPrefix(k, prefix) {
			moved[dst+"/"+k[len(prefix):]] = ent
			delete(s.entries, k)
		}
	}
	for k, ent := range moved {
		s.entries[k] = ent
	}
	movedDirs := map[string]time.Time{}
	for k, t := range s.dirs {
		if k == src || strings.HasPrefix(k, prefix) {
			movedDirs[dst+k[len(src):]] = t
			delete(s.dirs, k)
		}
	}
	for k, t := range movedDirs {
		s.dirs[k] = t
	}
	return s.saveLocked()
}

func (s *Store) CreateNew(p *vfs.Path) (bool, error) {
	s.mtx.Lock()
	_, exists := s.entries[p.Path()]
	exists = exists || s.isDirLocked(p.Path())
	s.mtx.Unlock()
	if exists {
		return false, nil
	}
	err := s.commit(p, tempbuf.NewStream(s.pools.Get(tempbuf.Small)), true)
	if err == errExists {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// OpenWrite returns a stream whose content replaces (or, with
// append, extends) the file when the stream is closed.
func (s *Store) OpenWrite(p *vfs.Path, append bool) (vfs.StreamImpl, error) {
	s.mtx.Lock()
	err := s.checkOpenLocked("open for write", p.URL())
	ent, exists := s.entries[p.Path()]
	isDir := !exists && s.isDirLocked(p.Path())
	s.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, ioerr.New(ioerr.KindUnsupported, "open for write", p.URL(), ErrNotAFile)
	}
	ws := &writeStream{
		store: s,
		path:  p,
		body:  tempbuf.NewStream(s.pools.Get(tempbuf.Standard)),
	}
	if append && exists {
		rs, err := s.openBlob(p.URL(), ent)
		if err != nil {
			ws.body.Destroy()
			return nil, err
		}
		_, err = io.Copy(ws.body, rs)
		rs.Close()
		if err != nil {
			ws.body.Destroy()
			return nil, ioerr.New(ioerr.KindIOFailure, "open for append", p.URL(), err)
		}
	}
	return ws, nil
}

func (s *Store) OpenRead(p *vfs.Path) (vfs.StreamImpl, error) {
	s.mtx.Lock()
	err := s.checkOpenLocked("open", p.URL())
	ent, ok := s.entries[p.Path()]
	isDir := !ok && s.isDirLocked(p.Path())
	s.mtx.Unlock()
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, ioerr.New(ioerr.KindUnsupported, "open", p.URL(), ErrNotAFile)
	}
	if !ok {
		return nil, ioerr.NotFound("open", p.URL())
	}
	return s.openBlob(p.URL(), ent)
}

func (s *Store) openBlob(url string, ent indexEntry) (*blobStream, error) {
	f, err := os.Open(s.blobPath(ent.Digest, ent.Compressed))
	if err != nil {
		return nil, ioerr.FromOS("open", url, err)
	}
	bs := &blobStream{f: f, r: f, url: url, remaining: ent.Size}
	if ent.Compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, ioerr.New(ioerr.KindIOFailure, "open", url, err)
		}
		bs.dec, bs.r = dec, dec
	}
	return bs, nil
}

// commit stores body's content as the new content of p. body is
// destroyed.
// errExists is returned by an exclusive commit when another writer
// created the node first.
var errExists = errors.New("already exists")

// commit stores body and points p at it. With exclusive, it fails
// with errExists if p was created since the caller checked.
func (s *Store) commit(p *vfs.Path, body *tempbuf.Stream, exclusive bool) error {
	defer body.Destroy()
	s.gcMtx.RLock()
	defer s.gcMtx.RUnlock()

	dg, err := digest(body.Reader())
	if err != nil {
		return ioerr.New(ioerr.KindIOFailure, "write", p.URL(), err)
	}
	ent := indexEntry{Digest: dg, Size: body.Len()}
	if err := s.storeBlob(p, body, &ent); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	if err := s.checkOpenLocked("write", p.URL()); err != nil {
		return err
	}
	_, isFile := s.entries[p.Path()]
	isDir := !isFile && s.isDirLocked(p.Path())
	if exclusive && (isFile || isDir) {
		return errExists
	}
	if isDir {
		return ioerr.New(ioerr.KindUnsupported, "write", p.URL(), ErrNotAFile)
	}
	ent.ModTime = s.clock.Now()
	s.entries[p.Path()] = ent
	return s.saveLocked()
}

// storeBlob writes the blob file for ent unless an identical blob is
// already stored. It sets ent.Compressed to match the file used.
func (s *Store) storeBlob(p *vfs.Path, body *tempbuf.Stream, ent *indexEntry) error {
	for _, compressed := range []bool{true, false} {
		if _, err := os.Stat(s.blobPath(ent.Digest, compressed)); err == nil {
			ent.Compressed = compressed
			s.deduplicated.Inc()
			return nil
		}
	}
	var buf bytes.Buffer
	buf.Grow(int(body.Len()))
	if _, err := body.WriteTo(&buf); err != nil {
		return ioerr.New(ioerr.KindIOFailure, "write", p.URL(), err)
	}
	data := buf.Bytes()
	if s.cfg.Compress {
		if z := compress(data); z != nil {
			data = z
			ent.Compressed = true
		}
	}
	bpath := s.blobPath(ent.Digest, ent.Compressed)
	if err := os.MkdirAll(filepath.Dir(bpath), 0755); err != nil {
		return ioerr.FromOS("write", p.URL(), err)
	}
	if err := writeFileAtomic(bpath, data); err != nil {
		return ioerr.FromOS("write", p.URL(), err)
	}
	s.bytesStored.Add(float64(len(data)))
	s.logger.WithFields(logrus.Fields{
		"Digest":     ent.Digest,
		"Size":       ent.Size,
		"Compressed": ent.Compressed,
	}).Debug("stored blob")
	return nil
}

type writeStream struct {
	vfs.NullStream
	store  *Store
	path   *vfs.Path
	body   *tempbuf.Stream
	closed bool
}

func (ws *writeStream) CanWrite() bool { return true }

func (ws *writeStream) Write(p []byte) (int, error) {
	if ws.closed {
		return 0, ioerr.Closed("write", ws.path.URL())
	}
	return ws.body.Write(p)
}

// Close commits the written content. Until then, readers see the
// previous content.
func (ws *writeStream) Close() error {
	if ws.closed {
		return nil
	}
	ws.closed = true
	return ws.store.commit(ws.path, ws.body, false)
}

type blobStream struct {
	vfs.NullStream
	f         *os.File
	dec       *zstd.Decoder
	r         io.Reader
	url       string
	remaining int64
	closeOnce sync.Once
	closed    bool
}

func (bs *blobStream) CanRead() bool { return true }

func (bs *blobStream) Read(p []byte) (int, error) {
	if bs.closed {
		return 0, ioerr.Closed("read", bs.url)
	}
	n, err := bs.r.Read(p)
	bs.remaining -= int64(n)
	if err != nil && err != io.EOF {
		err = ioerr.New(ioerr.KindIOFailure, "read", bs.url, err)
	}
	return n, err
}

func (bs *blobStream) Available() int {
	if bs.closed || bs.remaining < 0 {
		return 0
	}
	return int(bs.remaining)
}

func (bs *blobStream) Close() error {
	var err error
	bs.closeOnce.Do(func() {
		bs.closed = true
		if bs.dec != nil {
			bs.dec.Close()
		}
		err = bs.f.Close()
	})
	return err
}
