// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&NormalizeSuite{})

type NormalizeSuite struct{}

func (s *NormalizeSuite) TestNormalize(c *check.C) {
	for _, trial := range []struct {
		base, raw, expect string
	}{
		{"/a/b", "../c", "/a/c"},
		{"/a", "./b", "/a/b"},
		{"/a", "..", "/"},
		{"/a", "../../..", "/"},
		{"/a//b", "", "/a/b"},
		{"/a/b", "/x//y/./z", "/x/y/z"},
		{"/", "", "/"},
		{"", "x", "/x"},
		{"/a", "dir/", "/a/dir/"},
		{"/a/", "", "/a/"},
		{"/a/b", "c/..", "/a/b"},
		{"/a/b", "c/.", "/a/b/c"},
		{"/a", "...", "/a/..."},
	} {
		c.Check(Normalize(trial.base, trial.raw), check.Equals, trial.expect, check.Commentf("%+v", trial))
	}
}

func (s *NormalizeSuite) TestSeparator(c *check.C) {
	c.Check(NormalizeSep("/c:", `foo\bar\..\baz`, '\\'), check.Equals, "/c:/foo/baz")
	c.Check(NormalizeSep("/a", `\x`, '\\'), check.Equals, "/x")
	c.Check(Normalize("/a", `b\c`), check.Equals, `/a/b\c`)
}

func (s *NormalizeSuite) TestScanScheme(c *check.C) {
	for _, trial := range []struct {
		in, scheme, rest string
		ok               bool
	}{
		{"http://host/x", "http", "//host/x", true},
		{"MEMORY:/a", "memory", "/a", true},
		{"svn+ssh:x", "svn+ssh", "x", true},
		{"c:/windows", "", "c:/windows", false},
		{"/abs:path", "", "/abs:path", false},
		{"a b:c", "", "a b:c", false},
		{"1abc:d", "", "1abc:d", false},
		{"noscheme", "", "noscheme", false},
		{"", "", "", false},
	} {
		scheme, rest, ok := ScanScheme(trial.in)
		c.Check(scheme, check.Equals, trial.scheme, check.Commentf("%q", trial.in))
		c.Check(rest, check.Equals, trial.rest, check.Commentf("%q", trial.in))
		c.Check(ok, check.Equals, trial.ok, check.Commentf("%q", trial.in))
	}
}

func (s *NormalizeSuite) TestTailDir(c *check.C) {
	c.Check(Tail("/a/b"), check.Equals, "b")
	c.Check(Tail("/a/b/"), check.Equals, "b")
	c.Check(Tail("/"), check.Equals, "")
	c.Check(Dir("/a/b"), check.Equals, "/a")
	c.Check(Dir("/a"), check.Equals, "/")
	c.Check(Dir("/"), check.Equals, "/")
}

func (s *NormalizeSuite) TestSplitQuery(c *check.C) {
	p, q := SplitQuery("/a/b?x=1?y")
	c.Check(p, check.Equals, "/a/b")
	c.Check(q, check.Equals, "x=1?y")
	p, q = SplitQuery("/a")
	c.Check(p, check.Equals, "/a")
	c.Check(q, check.Equals, "")
}
