// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"
	"io/fs"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&PathSuite{})

type PathSuite struct {
	schemes *SchemeMap
	stub    *stubFS
	other   *stubFS
	root    *Path
}

func (s *PathSuite) SetUpTest(c *check.C) {
	s.schemes = NewSchemeMap()
	s.stub = newStubFS("stub")
	s.other = newStubFS("other")
	s.schemes.Put("stub", s.stub)
	s.schemes.Put("other", s.other)
	s.root = NewPath(s.stub, s.schemes, "/")
}

func (s *PathSuite) TestLookupRelative(c *check.C) {
	dir, err := s.root.Lookup("a/b", nil)
	c.Assert(err, check.IsNil)
	c.Check(dir.Path(), check.Equals, "/a/b")
	c.Check(dir.UserPath(), check.Equals, "a/b")

	p, err := dir.Lookup("../c", nil)
	c.Assert(err, check.IsNil)
	c.Check(p.Path(), check.Equals, "/a/c")
	c.Check(p.URL(), check.Equals, "stub:/a/c")

	p, err = dir.Lookup("/x/./y", nil)
	c.Assert(err, check.IsNil)
	c.Check(p.Path(), check.Equals, "/x/y")

	p, err = dir.Lookup("", nil)
	c.Assert(err, check.IsNil)
	c.Check(p.Path(), check.Equals, "/a/b")
}

func (s *PathSuite) TestLookupScheme(c *check.C) {
	p, err := s.root.Lookup("OTHER:/q/../r?z=1", nil)
	c.Assert(err, check.IsNil)
	c.Check(p.FS(), check.Equals, FS(s.other))
	c.Check(p.Scheme(), check.Equals, "other")
	c.Check(p.Path(), check.Equals, "/r")
	c.Check(p.Query(), check.Equals, "z=1")
	c.Check(p.URL(), check.Equals, "other:/r?z=1")

	// lookups from the new path stay in its backend
	q, err := p.Lookup("s", nil)
	c.Assert(err, check.IsNil)
	c.Check(q.URL(), check.Equals, "other:/r/s")
}

func (s *PathSuite) TestUnknownScheme(c *check.C) {
	_, err := s.root.Lookup("bogus:/foo", nil)
	c.Check(errors.Is(err, ioerr.ErrUnknownScheme), check.Equals, true)
	c.Check(errors.Is(err, ioerr.ErrNotFound), check.Equals, true)

	dead := s.root.LookupOrDead("bogus:/foo")
	c.Check(dead.IsDead(), check.Equals, true)
	c.Check(dead.Exists(), check.Equals, false)
	c.Check(dead.IsDirectory(), check.Equals, false)
	c.Check(dead.Length(), check.Equals, int64(0))
	c.Check(dead.LastModified().IsZero(), check.Equals, true)
	_, err = dead.OpenRead()
	c.Check(errors.Is(err, fs.ErrNotExist), check.Equals, true)
	c.Check(dead.LookupOrDead("child").IsDead(), check.Equals, true)
}

func (s *PathSuite) TestAttributes(c *check.C) {
	p, err := s.root.Lookup("a", Attributes{AttrHost: "vhost", AttrSocketTimeout: "1500"})
	c.Assert(err, check.IsNil)
	q, err := p.Lookup("b", Attributes{AttrNoDelay: "true"})
	c.Assert(err, check.IsNil)
	c.Check(q.Attributes().Host(), check.Equals, "vhost")
	c.Check(q.Attributes().SocketTimeout(), check.Equals, 1500*time.Millisecond)
	nd, ok := q.Attributes().NoDelay()
	c.Check(nd, check.Equals, true)
	c.Check(ok, check.Equals, true)
	_, ok = p.Attributes().NoDelay()
	c.Check(ok, check.Equals, false)
	c.Check(s.root.Attributes(), check.IsNil)
}

func (s *PathSuite) TestFileOperations(c *check.C) {
	p := s.root.LookupOrDead("/dir/sub/f.txt")
	c.Check(p.Exists(), check.Equals, false)
	c.Check(p.Parent().Mkdirs(), check.IsNil)
	c.Check(p.Parent().IsDirectory(), check.Equals, true)
	c.Check(p.Parent().Parent().IsDirectory(), check.Equals, true)

	ws, err := p.OpenWrite()
	c.Assert(err, check.IsNil)
	ws.Print("hello")
	c.Check(ws.Close(), check.IsNil)
	c.Check(p.IsFile(), check.Equals, true)
	c.Check(p.Length(), check.Equals, int64(5))
	c.Check(p.CanRead(), check.Equals, true)
	c.Check(p.CanWrite(), check.Equals, true)

	ws, err = p.OpenAppend()
	c.Assert(err, check.IsNil)
	ws.Print(", world")
	c.Check(ws.Close(), check.IsNil)

	rs, err := p.OpenRead()
	c.Assert(err, check.IsNil)
	text, err := rs.ReadString()
	c.Check(err, check.IsNil)
	c.Check(text, check.Equals, "hello, world")
	c.Check(rs.Close(), check.IsNil)

	created, err := p.CreateNewFile()
	c.Check(err, check.IsNil)
	c.Check(created, check.Equals, false)
	created, err = p.Parent().LookupOrDead("g").CreateNewFile()
	c.Check(err, check.IsNil)
	c.Check(created, check.Equals, true)

	paths, err := p.Parent().ListPaths()
	c.Assert(err, check.IsNil)
	c.Assert(paths, check.HasLen, 2)
	c.Check(paths[0].Tail(), check.Equals, "f.txt")
	c.Check(paths[1].Tail(), check.Equals, "g")

	c.Check(p.Truncate(0), check.IsNil)
	c.Check(p.Length(), check.Equals, int64(0))

	c.Check(s.root.LookupOrDead("dir").RemoveAll(), check.IsNil)
	c.Check(s.root.LookupOrDead("dir").Exists(), check.Equals, false)
	c.Check(s.root.LookupOrDead("dir").RemoveAll(), check.IsNil)
}

func (s *PathSuite) TestUnsupported(c *check.C) {
	p := s.root.LookupOrDead("x")
	err := p.SetExecutable(true)
	c.Check(errors.Is(err, ioerr.ErrUnsupported), check.Equals, true)
	_, err = p.Value()
	c.Check(errors.Is(err, ioerr.ErrUnsupported), check.Equals, true)
	_, _, err = p.OpenReadWrite()
	c.Check(errors.Is(err, ioerr.ErrUnsupported), check.Equals, true)
	err = p.RenameTo(s.root.LookupOrDead("y"))
	c.Check(errors.Is(err, ioerr.ErrUnsupported), check.Equals, true)
}

func (s *PathSuite) TestParentTail(c *check.C) {
	p := s.root.LookupOrDead("/a/b/c")
	c.Check(p.Tail(), check.Equals, "c")
	c.Check(p.Parent().Path(), check.Equals, "/a/b")
	c.Check(s.root.Parent(), check.Equals, s.root)
	c.Check(s.root.IsAncestorOf(p), check.Equals, true)
	c.Check(p.Parent().IsAncestorOf(p), check.Equals, true)
	c.Check(s.root.LookupOrDead("/a/bb").IsAncestorOf(p), check.Equals, false)
}

func (s *PathSuite) TestResources(c *check.C) {
	s.stub.files["/r"] = []byte("x")
	paths, err := s.root.Resources("r")
	c.Check(err, check.IsNil)
	c.Check(paths, check.HasLen, 1)
	paths, err = s.root.Resources("missing")
	c.Check(err, check.IsNil)
	c.Check(paths, check.HasLen, 0)
}

func (s *PathSuite) TestDepend(c *check.C) {
	s.stub.files["/d"] = []byte("abc")
	p := s.root.LookupOrDead("d")
	dep := p.CreateDepend()
	c.Check(dep.IsModified(), check.Equals, false)
	s.stub.files["/d"] = []byte("abcd")
	c.Check(dep.IsModified(), check.Equals, true)
	c.Check(Dependencies{p.CreateDepend()}.IsModified(), check.Equals, false)
	delete(s.stub.files, "/d")
	c.Check(Dependencies{p.CreateDepend(), dep}.IsModified(), check.Equals, true)
	missing := p.CreateDepend()
	c.Check(missing.IsModified(), check.Equals, false)
	s.stub.files["/d"] = nil
	c.Check(missing.IsModified(), check.Equals, true)
}

func (s *PathSuite) TestSchemeMap(c *check.C) {
	c.Check(s.schemes.Schemes(), check.DeepEquals, []string{"other", "stub"})
	cp := s.schemes.Copy()
	cp.Remove("other")
	c.Check(cp.Schemes(), check.DeepEquals, []string{"stub"})
	c.Check(s.schemes.Schemes(), check.HasLen, 2)
	root, err := s.schemes.Root("other")
	c.Assert(err, check.IsNil)
	c.Check(root.URL(), check.Equals, "other:/")
	_, err = s.schemes.Root("nope")
	c.Check(errors.Is(err, ioerr.ErrUnknownScheme), check.Equals, true)
	p, err := s.schemes.Lookup("stub:/m/n", nil)
	c.Assert(err, check.IsNil)
	c.Check(p.URL(), check.Equals, "stub:/m/n")
}
