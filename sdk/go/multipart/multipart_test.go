// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package multipart

import (
	"io"
	"strings"
	"testing"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/tempbuf"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&MultipartSuite{})

type MultipartSuite struct{}

// chunkSource returns one chunk per Read call.
type chunkSource struct {
	vfs.NullStream
	chunks []string
}

func (cs *chunkSource) CanRead() bool { return true }

func (cs *chunkSource) Read(p []byte) (int, error) {
	if len(cs.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, cs.chunks[0])
	if n < len(cs.chunks[0]) {
		cs.chunks[0] = cs.chunks[0][n:]
	} else {
		cs.chunks = cs.chunks[1:]
	}
	return n, nil
}

func newStream(boundary string, chunks ...string) *Stream {
	src := vfs.NewReadStream(&chunkSource{chunks: chunks}, tempbuf.Default().Get(tempbuf.Standard))
	return New(src, boundary)
}

type part struct {
	headers map[string][]string
	body    string
}

func readAll(c *check.C, m *Stream) []part {
	var parts []part
	for {
		rs, err := m.OpenRead()
		if err == io.EOF {
			return parts
		}
		c.Assert(err, check.IsNil)
		body, err := rs.ReadString()
		c.Assert(err, check.IsNil)
		c.Assert(rs.Close(), check.IsNil)
		hdrs := map[string][]string{}
		for _, name := range m.HeaderNames() {
			hdrs[name] = m.Headers(name)
		}
		parts = append(parts, part{headers: hdrs, body: body})
	}
}

func (s *MultipartSuite) TestParts(c *check.C) {
	m := newStream("frontier",
		"This is the preamble.\r\n",
		"--frontier\r\n",
		"Content-Type: text/plain\r\n",
		"X-Tag: one\r\nx-tag: two\r\n\r\n",
		"first part\r\n",
		"--frontier\r\n",
		"Content-Disposition: form-data;\r\n name=\"file\"\r\n\r\n",
		"second\r\npart",
		"\r\n--frontier--\r\n",
		"epilogue")
	parts := readAll(c, m)
	c.Assert(parts, check.HasLen, 2)
	c.Check(parts[0].body, check.Equals, "first part")
	c.Check(parts[0].headers, check.DeepEquals, map[string][]string{
		"content-type": {"text/plain"},
		"x-tag":        {"one", "two"},
	})
	c.Check(parts[1].body, check.Equals, "second\r\npart")
	c.Check(parts[1].headers["content-disposition"], check.DeepEquals, []string{`form-data; name="file"`})
	c.Check(m.Done(), check.Equals, true)

	_, err := m.OpenRead()
	c.Check(err, check.Equals, io.EOF)
}

func (s *MultipartSuite) TestHeaderLookup(c *check.C) {
	m := newStream("b", "--b\r\nContent-Type: a/b\r\n\r\nx\r\n--b--\r\n")
	_, err := m.OpenRead()
	c.Assert(err, check.IsNil)
	c.Check(m.Header("CONTENT-TYPE"), check.Equals, "a/b")
	c.Check(m.Header("missing"), check.Equals, "")
	c.Check(m.HeaderNames(), check.DeepEquals, []string{"content-type"})
}

// The boundary arrives split across reads at every possible point.
func (s *MultipartSuite) TestBoundarySplitAcrossReads(c *check.C) {
	body := "--X\r\n\r\nhello\r\n--X\r\n\r\nworld\r\n--X--\r\n"
	for i := 1; i < len(body); i++ {
		parts := readAll(c, newStream("X", body[:i], body[i:]))
		c.Assert(parts, check.HasLen, 2, check.Commentf("split at %d", i))
		c.Check(parts[0].body, check.Equals, "hello", check.Commentf("split at %d", i))
		c.Check(parts[1].body, check.Equals, "world", check.Commentf("split at %d", i))
	}
}

func (s *MultipartSuite) TestOneByteReads(c *check.C) {
	body := "--X\r\n\r\na\rb\nc\r\nd\r\n--X--"
	var chunks []string
	for _, r := range body {
		chunks = append(chunks, string(r))
	}
	parts := readAll(c, newStream("X", chunks...))
	c.Assert(parts, check.HasLen, 1)
	c.Check(parts[0].body, check.Equals, "a\rb\nc\r\nd")
}

func (s *MultipartSuite) TestLineTerminatorsInData(c *check.C) {
	data := "cr\r lf\n crlf\r\n --X not at line start\n-X\r\n--Xtra\n--Y\r\r\n"
	m := newStream("X", "--X\r\n\r\n"+data+"\r\n--X--\r\n")
	parts := readAll(c, m)
	c.Assert(parts, check.HasLen, 1)
	c.Check(parts[0].body, check.Equals, data)
}

func (s *MultipartSuite) TestBareLineFeeds(c *check.C) {
	m := newStream("X", "--X\nA: 1\n\none\n--X\n\ntwo\n--X--\n")
	parts := readAll(c, m)
	c.Assert(parts, check.HasLen, 2)
	c.Check(parts[0].body, check.Equals, "one")
	c.Check(parts[0].headers["a"], check.DeepEquals, []string{"1"})
	c.Check(parts[1].body, check.Equals, "two")
}

func (s *MultipartSuite) TestEmptyParts(c *check.C) {
	m := newStream("X", "--X\r\n\r\n--X\r\n\r\n\r\n--X--")
	parts := readAll(c, m)
	c.Assert(parts, check.HasLen, 2)
	c.Check(parts[0].body, check.Equals, "")
	c.Check(parts[1].body, check.Equals, "")
}

func (s *MultipartSuite) TestSkipUnreadPart(c *check.C) {
	m := newStream("X", "--X\r\n\r\n"+strings.Repeat("skip me ", 2000)+"\r\n--X\r\nN: 2\r\n\r\nkept\r\n--X--\r\n")
	_, err := m.OpenRead()
	c.Assert(err, check.IsNil)
	rs, err := m.OpenRead()
	c.Assert(err, check.IsNil)
	c.Check(m.Header("n"), check.Equals, "2")
	body, err := rs.ReadString()
	c.Check(err, check.IsNil)
	c.Check(body, check.Equals, "kept")
	_, err = m.OpenRead()
	c.Check(err, check.Equals, io.EOF)
}

func (s *MultipartSuite) TestMissingClosingBoundary(c *check.C) {
	m := newStream("X", "--X\r\n\r\ntruncated")
	rs, err := m.OpenRead()
	c.Assert(err, check.IsNil)
	_, err = rs.ReadAll()
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)

	m = newStream("X", "no boundary here")
	_, err = m.OpenRead()
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)
	_, err = m.OpenRead()
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)

	m = newStream("X", "--X\r\nA: 1\r\n")
	_, err = m.OpenRead()
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)
}

func (s *MultipartSuite) TestBoundaryFromContentType(c *check.C) {
	for _, trial := range []struct {
		ct       string
		boundary string
		ok       bool
	}{
		{`multipart/form-data; boundary=abc123`, "abc123", true},
		{`multipart/mixed; boundary="with space"`, "with space", true},
		{`Multipart/Mixed; Boundary=x`, "x", true},
		{`text/plain; boundary=abc`, "", false},
		{`multipart/mixed`, "", false},
		{`;;;`, "", false},
	} {
		boundary, ok := BoundaryFromContentType(trial.ct)
		c.Check(boundary, check.Equals, trial.boundary, check.Commentf("%q", trial.ct))
		c.Check(ok, check.Equals, trial.ok, check.Commentf("%q", trial.ct))
	}
}
