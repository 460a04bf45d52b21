// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"bytes"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
)

// stubFS is a flat map of files plus a set of directories.
type stubFS struct {
	scheme string
	mtx    sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	mtime  time.Time
}

func newStubFS(scheme string) *stubFS {
	return &stubFS{
		scheme: scheme,
		files:  map[string][]byte{},
		dirs:   map[string]bool{"/": true},
		mtime:  time.Unix(1700000000, 0),
	}
}

func (fs *stubFS) Scheme() string { return fs.scheme }

func (fs *stubFS) Stat(p *Path) (FileInfo, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	if data, ok := fs.files[p.Path()]; ok {
		return FileInfo{Name: p.Tail(), Type: TypeFile, Size: int64(len(data)), ModTime: fs.mtime}, nil
	}
	if fs.dirs[p.Path()] {
		return FileInfo{Name: p.Tail(), Type: TypeDir, ModTime: fs.mtime}, nil
	}
	return FileInfo{}, ioerr.NotFound("stat", p.URL())
}

func (fs *stubFS) OpenRead(p *Path) (StreamImpl, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	data, ok := fs.files[p.Path()]
	if !ok {
		return nil, ioerr.NotFound("open", p.URL())
	}
	return &ReaderStream{R: bytes.NewReader(data)}, nil
}

func (fs *stubFS) OpenWrite(p *Path, append bool) (StreamImpl, error) {
	w := &stubWriter{fs: fs, name: p.Path()}
	if append {
		w.buf.Write(fs.files[p.Path()])
	}
	return w, nil
}

func (fs *stubFS) List(p *Path) ([]string, error) {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	prefix := strings.TrimSuffix(p.Path(), "/") + "/"
	seen := map[string]bool{}
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) {
			seen[strings.SplitN(name[len(prefix):], "/", 2)[0]] = true
		}
	}
	for name := range fs.dirs {
		if name != "/" && strings.HasPrefix(name, prefix) {
			seen[strings.SplitN(name[len(prefix):], "/", 2)[0]] = true
		}
	}
	var names []string
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *stubFS) Mkdir(p *Path) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	if !fs.dirs[Dir(p.Path())] {
		return ioerr.NotFound("mkdir", p.URL())
	}
	fs.dirs[p.Path()] = true
	return nil
}

func (fs *stubFS) Remove(p *Path) error {
	fs.mtx.Lock()
	defer fs.mtx.Unlock()
	delete(fs.files, p.Path())
	delete(fs.dirs, p.Path())
	return nil
}

type stubWriter struct {
	NullStream
	fs   *stubFS
	name string
	buf  bytes.Buffer
}

func (w *stubWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *stubWriter) CanWrite() bool              { return true }

func (w *stubWriter) Close() error {
	w.fs.mtx.Lock()
	defer w.fs.mtx.Unlock()
	w.fs.files[w.name] = w.buf.Bytes()
	return nil
}

// chunkStream returns its chunks one per Read call and counts
// writes.
type chunkStream struct {
	chunks [][]byte
	writes [][]byte
	closed bool
}

func (s *chunkStream) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	if n < len(s.chunks[0]) {
		s.chunks[0] = s.chunks[0][n:]
	} else {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *chunkStream) Write(p []byte) (int, error) {
	s.writes = append(s.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (s *chunkStream) Close() error   { s.closed = true; return nil }
func (s *chunkStream) CanRead() bool  { return true }
func (s *chunkStream) CanWrite() bool { return true }

func chunks(ss ...string) *chunkStream {
	cs := &chunkStream{}
	for _, s := range ss {
		cs.chunks = append(cs.chunks, []byte(s))
	}
	return cs
}
