// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package bindfs

import (
	"testing"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs/memfs"
	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&BindSuite{})

type BindSuite struct {
	schemes *vfs.SchemeMap
	mem     *vfs.Path
	fs      *FS
	root    *vfs.Path
}

func (s *BindSuite) SetUpTest(c *check.C) {
	s.schemes = vfs.NewSchemeMap()
	mem := memfs.New()
	s.schemes.Put("memory", mem)
	s.mem = mem.Root(s.schemes)
	for _, dir := range []string{"/base/etc", "/other/conf", "/third"} {
		c.Assert(s.mem.LookupOrDead(dir).Mkdirs(), check.IsNil)
	}
	s.put(c, s.mem.LookupOrDead("/base/etc/passwd"), "base passwd")
	s.put(c, s.mem.LookupOrDead("/other/conf/app.yml"), "other app")
	s.fs = New(s.mem.LookupOrDead("/base"))
	s.root = s.fs.Root(s.schemes)
}

func (s *BindSuite) put(c *check.C, p *vfs.Path, data string) {
	ws, err := p.OpenWrite()
	c.Assert(err, check.IsNil)
	ws.WriteString(data)
	c.Assert(ws.Close(), check.IsNil)
}

func (s *BindSuite) get(c *check.C, p *vfs.Path) string {
	rs, err := p.OpenRead()
	c.Assert(err, check.IsNil)
	defer rs.Close()
	data, err := rs.ReadString()
	c.Assert(err, check.IsNil)
	return data
}

func (s *BindSuite) TestUnboundDelegatesToBase(c *check.C) {
	p := s.root.LookupOrDead("etc/passwd")
	c.Check(p.Scheme(), check.Equals, "bind")
	c.Check(s.fs.Target(p).URL(), check.Equals, "memory:/base/etc/passwd")
	c.Check(s.get(c, p), check.Equals, "base passwd")
}

func (s *BindSuite) TestBindSubtree(c *check.C) {
	s.fs.Bind("/etc/app", s.mem.LookupOrDead("/other/conf"))
	p := s.root.LookupOrDead("/etc/app/app.yml")
	c.Check(s.get(c, p), check.Equals, "other app")
	c.Check(p.URL(), check.Equals, "memory:/other/conf/app.yml")
	// siblings still come from the base
	c.Check(s.get(c, s.root.LookupOrDead("/etc/passwd")), check.Equals, "base passwd")

	names, err := s.root.LookupOrDead("/etc").List()
	c.Assert(err, check.IsNil)
	c.Check(names, check.DeepEquals, []string{"app", "passwd"})

	c.Check(s.root.LookupOrDead("/etc/app").IsDirectory(), check.Equals, true)

	s.put(c, s.root.LookupOrDead("/etc/app/new"), "written")
	c.Check(s.get(c, s.mem.LookupOrDead("/other/conf/new")), check.Equals, "written")
}

func (s *BindSuite) TestNestedBindings(c *check.C) {
	s.fs.Bind("/a", s.mem.LookupOrDead("/other"))
	s.fs.Bind("/a/b/c", s.mem.LookupOrDead("/third"))
	c.Check(s.fs.Target(s.root.LookupOrDead("/a/conf/x")).Path(), check.Equals, "/other/conf/x")
	c.Check(s.fs.Target(s.root.LookupOrDead("/a/b/c/y")).Path(), check.Equals, "/third/y")
	// "b" has no binding of its own, so it resolves through /a
	c.Check(s.fs.Target(s.root.LookupOrDead("/a/b/z")).Path(), check.Equals, "/other/b/z")
	// a mount point's ancestors exist
	c.Check(s.root.LookupOrDead("/a/b").IsDirectory(), check.Equals, true)
	c.Check(s.fs.Bindings(), check.DeepEquals, []string{"/", "/a", "/a/b/c"})
}

func (s *BindSuite) TestUnbind(c *check.C) {
	s.fs.Bind("/x/y", s.mem.LookupOrDead("/third"))
	c.Check(s.fs.Target(s.root.LookupOrDead("/x/y/f")).Path(), check.Equals, "/third/f")
	c.Check(s.fs.Unbind("/x/y"), check.IsNil)
	c.Check(s.fs.Target(s.root.LookupOrDead("/x/y/f")).Path(), check.Equals, "/base/x/y/f")
	c.Check(s.fs.Bindings(), check.DeepEquals, []string{"/"})

	err := s.fs.Unbind("/x/y")
	c.Check(ioerr.Is(err, ioerr.KindNotFound), check.Equals, true)
	err = s.fs.Unbind("/")
	c.Check(ioerr.Is(err, ioerr.KindUnsupported), check.Equals, true)
}

func (s *BindSuite) TestMissing(c *check.C) {
	p := s.root.LookupOrDead("/nope")
	c.Check(p.Exists(), check.Equals, false)
	_, err := p.List()
	c.Check(ioerr.Is(err, ioerr.KindNotFound), check.Equals, true)
}
