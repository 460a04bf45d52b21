// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jarfs

import (
	"bytes"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/hashicorp/golang-lru"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

type entryInfo struct {
	dir     bool
	size    int64
	modTime time.Time
}

// missing is cached for names that are not in the archive.
var missing = &entryInfo{}

type fingerprint struct {
	exists  bool
	modTime time.Time
	length  int64
}

func (fp fingerprint) equal(other fingerprint) bool {
	return fp.exists == other.exists && fp.modTime.Equal(other.modTime) && fp.length == other.length
}

// Jar is one archive. Its methods take entry names relative to the
// archive root, with or without a leading slash.
type Jar struct {
	cache   *Cache
	backing *vfs.Path
	fs      *archiveFS
	logger  logrus.FieldLogger

	mtx       sync.Mutex
	entries   *lru.Cache
	checked   bool
	lastCheck time.Time
	fp        fingerprint
	handle    *archive

	changeSeq int64
	opens     int64
}

func newJar(c *Cache, backing *vfs.Path) *Jar {
	entries, err := lru.New(c.cfg.EntryCacheSize)
	if err != nil {
		panic(err)
	}
	j := &Jar{
		cache:   c,
		backing: backing,
		logger:  c.logger.WithField("Archive", backing.URL()),
		entries: entries,
	}
	j.fs = &archiveFS{jar: j}
	return j
}

// Backing returns the path of the archive file.
func (j *Jar) Backing() *vfs.Path { return j.backing }

// Root returns the path of the archive's root directory.
func (j *Jar) Root() *vfs.Path {
	return j.backing.Derive(j.fs, "/", "/", "", j.backing.Attributes())
}

// ChangeSequence is incremented each time a change to the backing
// file is detected.
func (j *Jar) ChangeSequence() int64 { return atomic.LoadInt64(&j.changeSeq) }

// Opens returns the number of times the archive has been opened.
func (j *Jar) Opens() int64 { return atomic.LoadInt64(&j.opens) }

// Depend returns a dependency on the backing file.
func (j *Jar) Depend() vfs.Dependency { return j.backing.CreateDepend() }

func (j *Jar) String() string { return j.backing.URL() }

func entryName(name string) string {
	return strings.Trim(name, "/")
}

// Exists reports whether name is a file or directory in the archive.
// Errors reading the archive are logged and reported as false.
func (j *Jar) Exists(name string) bool {
	ent, err := j.stat(name)
	return err == nil && ent != nil
}

func (j *Jar) IsDirectory(name string) bool {
	ent, err := j.stat(name)
	return err == nil && ent != nil && ent.dir
}

func (j *Jar) IsFile(name string) bool {
	ent, err := j.stat(name)
	return err == nil && ent != nil && !ent.dir
}

// LastModified returns the entry's modification time, or the zero
// time if it does not exist.
func (j *Jar) LastModified(name string) time.Time {
	ent, err := j.stat(name)
	if err != nil || ent == nil {
		return time.Time{}
	}
	return ent.modTime
}

// Length returns the uncompressed size of the entry, or -1 if it
// does not exist.
func (j *Jar) Length(name string) int64 {
	ent, err := j.stat(name)
	if err != nil || ent == nil {
		return -1
	}
	return ent.size
}

// stat returns the cached metadata for name (nil if there is no such
// entry), reading the archive if needed.
func (j *Jar) stat(name string) (*entryInfo, error) {
	name = entryName(name)
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if err := j.checkLocked(); err != nil {
		return nil, j.logged(err)
	}
	if v, ok := j.entries.Get(name); ok {
		j.cache.lookups.WithLabelValues("hit").Inc()
		if v == missing {
			return nil, nil
		}
		return v.(*entryInfo), nil
	}
	j.cache.lookups.WithLabelValues("miss").Inc()
	a, err := j.archiveLocked()
	if err != nil {
		return nil, j.logged(err)
	}
	var ent *entryInfo
	if a != nil {
		ent = a.stat(name)
	}
	if ent == nil {
		j.entries.Add(name, missing)
	} else {
		j.entries.Add(name, ent)
	}
	return ent, nil
}

func (j *Jar) logged(err error) error {
	j.logger.WithError(err).Warn("cannot read archive")
	return err
}

// List returns the names of the children of directory name.
func (j *Jar) List(name string) ([]string, error) {
	name = entryName(name)
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if err := j.checkLocked(); err != nil {
		return nil, err
	}
	a, err := j.archiveLocked()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ioerr.NotFound("list", j.url(name))
	}
	if _, isDir := a.dirs[name]; !isDir && name != "" {
		if _, isFile := a.files[name]; isFile {
			return nil, nil
		}
		return nil, ioerr.NotFound("list", j.url(name))
	}
	return a.list(name), nil
}

// Open returns a stream reading the content of file entry name.
func (j *Jar) Open(name string) (vfs.StreamImpl, error) {
	name = entryName(name)
	j.mtx.Lock()
	defer j.mtx.Unlock()
	if err := j.checkLocked(); err != nil {
		return nil, err
	}
	a, err := j.archiveLocked()
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ioerr.NotFound("open", j.url(name))
	}
	f, ok := a.files[name]
	if !ok {
		if _, isDir := a.dirs[name]; isDir || name == "" {
			return nil, ioerr.Unsupported("open directory", j.url(name))
		}
		return nil, ioerr.NotFound("open", j.url(name))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, ioerr.New(ioerr.KindIOFailure, "open", j.url(name), err)
	}
	a.acquire()
	return &entryStream{
		archive:   a,
		rc:        rc,
		url:       j.url(name),
		remaining: int64(f.UncompressedSize64),
	}, nil
}

func (j *Jar) url(name string) string {
	return "jar:" + j.backing.URL() + "!/" + name
}

// ClearCache closes the archive handle (once no stream is reading
// from it). Entry metadata is kept.
func (j *Jar) ClearCache() {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.dropHandleLocked()
}

// Close releases the archive handle and forgets all cached entries.
// The Jar remains usable.
func (j *Jar) Close() error {
	j.mtx.Lock()
	defer j.mtx.Unlock()
	j.dropHandleLocked()
	j.entries.Purge()
	j.checked = false
	return nil
}

// checkLocked compares the backing file's fingerprint with the one
// seen last, unless that was less than CheckInterval ago. On a
// change, cached entries are dropped and the open handle is retired.
func (j *Jar) checkLocked() error {
	now := j.cache.clock.Now()
	if j.checked && now.Sub(j.lastCheck) < j.cache.cfg.CheckInterval {
		return nil
	}
	var fp fingerprint
	fi, err := j.backing.Stat()
	if err == nil {
		fp = fingerprint{exists: true, modTime: fi.ModTime, length: fi.Size}
	} else if !ioerr.Is(err, ioerr.KindNotFound) {
		return err
	}
	j.lastCheck = now
	if !j.checked {
		j.checked = true
		j.fp = fp
		return nil
	}
	if fp.equal(j.fp) {
		return nil
	}
	j.logger.WithFields(logrus.Fields{
		"ModTime": fp.modTime,
		"Length":  fp.length,
	}).Debug("archive changed, dropping cached entries")
	j.fp = fp
	atomic.AddInt64(&j.changeSeq, 1)
	j.cache.invalidations.Inc()
	j.entries.Purge()
	j.dropHandleLocked()
	return nil
}

// archiveLocked returns the open archive, opening it if needed. It
// returns nil if the backing file does not exist.
func (j *Jar) archiveLocked() (*archive, error) {
	if j.handle != nil {
		return j.handle, nil
	}
	if !j.fp.exists {
		return nil, nil
	}
	a, err := openArchive(j.backing)
	if err != nil {
		return nil, err
	}
	a.logger = j.logger
	atomic.AddInt64(&j.opens, 1)
	j.cache.opens.Inc()
	j.logger.Debug("opened archive")
	j.handle = a
	return a, nil
}

func (j *Jar) dropHandleLocked() {
	if j.handle != nil {
		j.handle.release()
		j.handle = nil
	}
}

// archive is an open zip reader with a name index. It is reference
// counted: the owning Jar holds one reference and each open stream
// holds another.
type archive struct {
	zr     *zip.Reader
	closer io.Closer
	logger logrus.FieldLogger
	files  map[string]*zip.File
	// dirs includes directories implied by file names; their value
	// is nil.
	dirs   map[string]*zip.File
	refs   int32
	closed int32
}

func openArchive(backing *vfs.Path) (*archive, error) {
	const op = "open archive"
	if nfs, ok := backing.FS().(vfs.NativeFS); ok && backing.Scheme() == "file" {
		f, err := os.Open(nfs.NativePath(backing))
		if err != nil {
			return nil, ioerr.FromOS(op, backing.URL(), err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, ioerr.FromOS(op, backing.URL(), err)
		}
		zr, err := zip.NewReader(f, fi.Size())
		if err != nil {
			f.Close()
			return nil, ioerr.New(ioerr.KindProtocolViolation, op, backing.URL(), err)
		}
		return newArchive(zr, f), nil
	}
	rs, err := backing.OpenRead()
	if err != nil {
		return nil, err
	}
	buf, err := rs.ReadAll()
	rs.Close()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, ioerr.New(ioerr.KindProtocolViolation, op, backing.URL(), err)
	}
	return newArchive(zr, nil), nil
}

func newArchive(zr *zip.Reader, closer io.Closer) *archive {
	a := &archive{
		zr:     zr,
		closer: closer,
		files:  make(map[string]*zip.File, len(zr.File)),
		dirs:   make(map[string]*zip.File),
		refs:   1,
	}
	for _, f := range zr.File {
		name := entryName(f.Name)
		if name == "" {
			continue
		}
		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			a.dirs[name] = f
		} else {
			a.files[name] = f
		}
		for dir := path.Dir(name); dir != "."; dir = path.Dir(dir) {
			if _, ok := a.dirs[dir]; !ok {
				a.dirs[dir] = nil
			}
		}
	}
	return a
}

func (a *archive) stat(name string) *entryInfo {
	if name == "" {
		return &entryInfo{dir: true}
	}
	if f, ok := a.files[name]; ok {
		return &entryInfo{size: int64(f.UncompressedSize64), modTime: f.Modified}
	}
	if f, ok := a.dirs[name]; ok {
		ent := &entryInfo{dir: true}
		if f != nil {
			ent.modTime = f.Modified
		}
		return ent
	}
	return nil
}

func (a *archive) list(dir string) []string {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	var names []string
	add := func(name string) {
		if !strings.HasPrefix(name, prefix) {
			return
		}
		rest := name[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	for name := range a.files {
		add(name)
	}
	for name := range a.dirs {
		add(name)
	}
	sort.Strings(names)
	return names
}

func (a *archive) acquire() {
	atomic.AddInt32(&a.refs, 1)
}

func (a *archive) release() {
	if atomic.AddInt32(&a.refs, -1) > 0 {
		return
	}
	atomic.StoreInt32(&a.closed, 1)
	if a.closer == nil {
		return
	}
	if err := a.closer.Close(); err != nil && a.logger != nil {
		a.logger.WithError(err).Warn("error closing retired archive handle")
	}
}

type entryStream struct {
	vfs.NullStream
	archive   *archive
	rc        io.ReadCloser
	url       string
	remaining int64
	closeOnce sync.Once
	closed    bool
}

func (s *entryStream) CanRead() bool { return true }

func (s *entryStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ioerr.Closed("read", s.url)
	}
	n, err := s.rc.Read(p)
	s.remaining -= int64(n)
	if err != nil && err != io.EOF {
		err = ioerr.New(ioerr.KindIOFailure, "read", s.url, err)
	}
	return n, err
}

// Available returns the number of uncompressed bytes left.
func (s *entryStream) Available() int {
	if s.closed || s.remaining < 0 {
		return 0
	}
	return int(s.remaining)
}

func (s *entryStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		err = s.rc.Close()
		s.archive.release()
	})
	return err
}
