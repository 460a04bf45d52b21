// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpfs

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/clock"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ctxlog"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/CleverCloud/Quercus-sub014/sdk/go/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&HTTPSuite{})

type HTTPSuite struct {
	clk     *clock.FakeClock
	reg     *prometheus.Registry
	client  *Client
	schemes *vfs.SchemeMap
	srv     *scriptedServer
}

func (s *HTTPSuite) SetUpTest(c *check.C) {
	s.clk = clock.Fake(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	s.reg = prometheus.NewRegistry()
	s.client = NewClient(Config{
		ConnectTimeout: time.Second,
		ReadTimeout:    5 * time.Second,
		Clock:          s.clk,
		Logger:         ctxlog.TestLogger(c),
		Registerer:     s.reg,
	})
	s.schemes = vfs.NewSchemeMap()
	s.schemes.Put("http", s.client.FS(false))
	s.schemes.Put("https", s.client.FS(true))
}

func (s *HTTPSuite) TearDownTest(c *check.C) {
	s.client.Close()
	if s.srv != nil {
		s.srv.Close()
		s.srv = nil
	}
}

func (s *HTTPSuite) serve(c *check.C, respond func(*recordedRequest) (string, bool)) {
	s.srv = newScriptedServer(c, respond)
}

func (s *HTTPSuite) lookup(c *check.C, path string, attrs vfs.Attributes) *vfs.Path {
	p, err := s.schemes.Lookup("http://"+s.srv.Addr()+path, attrs)
	c.Assert(err, check.IsNil)
	return p
}

func (s *HTTPSuite) open(c *check.C, path string) *Stream {
	impl, err := s.lookup(c, path, nil).OpenReadImpl()
	c.Assert(err, check.IsNil)
	return impl.(*Stream)
}

func fixed(body string) func(*recordedRequest) (string, bool) {
	return func(*recordedRequest) (string, bool) {
		return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body), false
	}
}

func (s *HTTPSuite) TestChunked(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n", false
	})
	rs, err := s.lookup(c, "/wiki", nil).OpenRead()
	c.Assert(err, check.IsNil)
	data, err := rs.ReadString()
	c.Check(err, check.IsNil)
	c.Check(data, check.Equals, "Wikipedia")
	c.Check(rs.Close(), check.IsNil)
}

func (s *HTTPSuite) TestChunkedExtensionAndTrailer(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3;name=x\r\nabc\r\n0\r\nX-Trailer: 1\r\n\r\n", false
	})
	st := s.open(c, "/")
	data, err := io.ReadAll(st)
	c.Check(err, check.IsNil)
	c.Check(string(data), check.Equals, "abc")
	c.Check(st.State(), check.Equals, "done")
	st.Close()
}

func (s *HTTPSuite) TestMalformedChunk(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\nabc\r\n", true
	})
	st := s.open(c, "/")
	_, err := io.ReadAll(st)
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)
	c.Check(st.State(), check.Equals, "error")
	st.Close()
	c.Check(s.client.saved, check.IsNil)
}

func (s *HTTPSuite) TestKeepAlive(c *check.C) {
	s.serve(c, fixed("hello"))
	st := s.open(c, "/a")
	data, err := io.ReadAll(st)
	c.Assert(err, check.IsNil)
	c.Check(string(data), check.Equals, "hello")
	first := st.Conn()
	c.Assert(st.Close(), check.IsNil)

	// within the window: same connection
	s.clk.Advance(4 * time.Second)
	st = s.open(c, "/b")
	c.Check(st.Conn(), check.Equals, first)
	data, err = io.ReadAll(st)
	c.Assert(err, check.IsNil)
	c.Check(string(data), check.Equals, "hello")
	c.Assert(st.Close(), check.IsNil)
	c.Check(s.srv.Accepts(), check.Equals, 1)

	// after the window: new connection
	s.clk.Advance(6 * time.Second)
	st = s.open(c, "/c")
	c.Check(st.Conn(), check.Not(check.Equals), first)
	io.ReadAll(st)
	st.Close()
	c.Check(s.srv.Accepts(), check.Equals, 2)

	c.Check(testutil.ToFloat64(s.client.connections.WithLabelValues("new")), check.Equals, float64(2))
	c.Check(testutil.ToFloat64(s.client.connections.WithLabelValues("reused")), check.Equals, float64(1))
	c.Check(testutil.ToFloat64(s.client.connections.WithLabelValues("expired")), check.Equals, float64(1))
}

func (s *HTTPSuite) TestExpiredConnectionCloseErrorLogged(c *check.C) {
	var logbuf bytes.Buffer
	s.client.logger = ctxlog.New(&logbuf, "text", "debug")
	s.serve(c, fixed("hello"))
	st := s.open(c, "/a")
	io.ReadAll(st)
	first := st.Conn()
	c.Assert(st.Close(), check.IsNil)
	first.Close()

	s.clk.Advance(6 * time.Second)
	st = s.open(c, "/b")
	io.ReadAll(st)
	st.Close()
	c.Check(logbuf.String(), check.Matches, `(?ms).*error closing expired keep-alive connection.*`)
}

func (s *HTTPSuite) TestKeepAliveDrainsUnreadBody(c *check.C) {
	s.serve(c, fixed(strings.Repeat("x", 10000)))
	st := s.open(c, "/a")
	buf := make([]byte, 10)
	_, err := io.ReadFull(st, buf)
	c.Assert(err, check.IsNil)
	first := st.Conn()
	c.Assert(st.Close(), check.IsNil)

	st = s.open(c, "/b")
	c.Check(st.Conn(), check.Equals, first)
	data, err := io.ReadAll(st)
	c.Check(err, check.IsNil)
	c.Check(len(data), check.Equals, 10000)
	st.Close()
}

func (s *HTTPSuite) TestNoKeepAlive(c *check.C) {
	for _, resp := range []string{
		"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok",
		"HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok",
		"HTTP/1.1 404 Not Found\r\nContent-Length: 2\r\n\r\nno",
	} {
		resp := resp
		s.serve(c, func(*recordedRequest) (string, bool) { return resp, false })
		st := s.open(c, "/")
		io.ReadAll(st)
		c.Check(st.Close(), check.IsNil)
		c.Check(s.client.saved, check.IsNil, check.Commentf("%q", resp))
		s.srv.Close()
	}
	s.srv = nil
}

func (s *HTTPSuite) TestSupersededConnectionClosed(c *check.C) {
	s.serve(c, fixed("x"))
	a := s.open(c, "/a")
	b := s.open(c, "/b")
	io.ReadAll(a)
	io.ReadAll(b)
	c.Assert(a.Close(), check.IsNil)
	c.Check(s.client.saved.sock.Conn(), check.Equals, a.Conn())
	c.Assert(b.Close(), check.IsNil)
	c.Check(s.client.saved.sock.Conn(), check.Equals, b.Conn())
	_, err := a.Conn().Write([]byte("x"))
	c.Check(err, check.NotNil)
}

func (s *HTTPSuite) TestRequestHeaders(c *check.C) {
	s.serve(c, fixed(""))
	st := s.open(c, "/path?q=1")
	c.Assert(st.SetAttribute("X-Custom", "a"), check.IsNil)
	c.Assert(st.SetAttribute("X-Custom", "b"), check.IsNil)
	c.Assert(st.SetAttribute("Content-Length", "99"), check.IsNil)
	c.Check(st.SetAttribute("Bad Name", "x"), check.NotNil)
	_, err := st.Status()
	c.Assert(err, check.IsNil)
	c.Check(st.SetAttribute("X-Late", "x"), check.NotNil)
	st.Close()

	reqs := s.srv.Requests()
	c.Assert(reqs, check.HasLen, 1)
	req := reqs[0]
	c.Check(req.Method, check.Equals, "GET")
	c.Check(req.URI, check.Equals, "/path?q=1")
	c.Check(req.Host, check.Equals, s.srv.Addr())
	c.Check(req.Header.Get("User-Agent"), check.Equals, DefaultUserAgent)
	c.Check(req.Header["X-Custom"], check.DeepEquals, []string{"a", "b"})
	c.Check(req.Header.Get("Content-Length"), check.Equals, "")
}

func (s *HTTPSuite) TestVirtualHostAndMethod(c *check.C) {
	s.serve(c, fixed(""))
	p := s.lookup(c, "/", vfs.Attributes{vfs.AttrHost: "vhost.example", vfs.AttrMethod: "OPTIONS"})
	rs, err := p.OpenRead()
	c.Assert(err, check.IsNil)
	rs.ReadAll()
	rs.Close()
	req := s.srv.Requests()[0]
	c.Check(req.Host, check.Equals, "vhost.example")
	c.Check(req.Method, check.Equals, "OPTIONS")
}

func (s *HTTPSuite) TestResponseHeaders(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "\r\nHTTP/1.1 100 Continue\r\nX-Ignored: 1\r\n\r\n" +
			"HTTP/1.1 201 Created Here\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\nbogus line\r\nContent-Length: 0\r\n\r\n", false
	})
	st := s.open(c, "/")
	status, err := st.Status()
	c.Assert(err, check.IsNil)
	c.Check(status, check.Equals, 201)
	v, _ := st.Attribute("status")
	c.Check(v, check.Equals, "201")
	v, _ = st.Attribute("status-message")
	c.Check(v, check.Equals, "Created Here")
	v, _ = st.Attribute("SET-COOKIE")
	c.Check(v, check.Equals, "a=1\nb=2")
	_, ok := st.Attribute("x-ignored")
	c.Check(ok, check.Equals, false)
	c.Check(st.AttributeNames(), check.DeepEquals, []string{"content-length", "set-cookie", "status", "status-message"})
	st.Close()
}

func (s *HTTPSuite) TestPost(c *check.C) {
	s.serve(c, func(req *recordedRequest) (string, bool) {
		body := req.Method + " " + req.Body
		return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body), false
	})
	rs, ws, err := s.lookup(c, "/post", nil).OpenReadWrite()
	c.Assert(err, check.IsNil)
	ws.WriteString("payload")
	data, err := rs.ReadString()
	c.Check(err, check.IsNil)
	c.Check(data, check.Equals, "POST payload")
	c.Check(rs.Close(), check.IsNil)
	c.Check(s.srv.Requests()[0].Header.Get("Content-Length"), check.Equals, "7")
}

func (s *HTTPSuite) TestPostSentOnClose(c *check.C) {
	s.serve(c, fixed("ok"))
	p := s.lookup(c, "/post", nil)
	impl, err := p.FS().(vfs.ReadWriteFS).OpenReadWrite(p)
	c.Assert(err, check.IsNil)
	impl.Write([]byte("abc"))
	c.Check(impl.Close(), check.IsNil)
	reqs := s.srv.Requests()
	c.Assert(reqs, check.HasLen, 1)
	c.Check(reqs[0].Body, check.Equals, "abc")
}

func (s *HTTPSuite) TestContentLengthMismatch(c *check.C) {
	s.serve(c, fixed("ok"))
	p := s.lookup(c, "/post", nil)
	impl, err := p.FS().(vfs.ReadWriteFS).OpenReadWrite(p)
	c.Assert(err, check.IsNil)
	st := impl.(*Stream)
	c.Assert(st.SetAttribute("Content-Length", "10"), check.IsNil)
	st.Write([]byte("short"))
	_, err = st.Read(make([]byte, 10))
	c.Check(ioerr.Is(err, ioerr.KindProtocolViolation), check.Equals, true)
	st.Close()
	c.Check(s.srv.Requests(), check.HasLen, 0)
}

func (s *HTTPSuite) TestWriteOnGet(c *check.C) {
	s.serve(c, fixed(""))
	st := s.open(c, "/")
	_, err := st.Write([]byte("x"))
	c.Check(ioerr.Is(err, ioerr.KindUnsupported), check.Equals, true)
	st.Close()
}

func (s *HTTPSuite) TestTruncatedBody(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc", true
	})
	st := s.open(c, "/")
	_, err := io.ReadAll(st)
	c.Check(ioerr.Is(err, ioerr.KindIOFailure), check.Equals, true)
	st.Close()
	c.Check(s.client.saved, check.IsNil)
}

func (s *HTTPSuite) TestBodyUntilClose(c *check.C) {
	s.serve(c, func(*recordedRequest) (string, bool) {
		return "HTTP/1.1 200 OK\r\n\r\nuntil close", true
	})
	st := s.open(c, "/")
	data, err := io.ReadAll(st)
	c.Check(err, check.IsNil)
	c.Check(string(data), check.Equals, "until close")
	st.Close()
	c.Check(s.client.saved, check.IsNil)
}

func (s *HTTPSuite) TestHTTP10(c *check.C) {
	s.serve(c, fixed("x"))
	st := s.open(c, "/")
	st.SetHTTP10()
	io.ReadAll(st)
	st.Close()
	req := s.srv.Requests()[0]
	c.Check(req.Proto, check.Equals, "HTTP/1.0")
	c.Check(req.Header.Get("Connection"), check.Equals, "close")
	c.Check(s.client.saved, check.IsNil)
}

func (s *HTTPSuite) TestStatCache(c *check.C) {
	s.serve(c, func(req *recordedRequest) (string, bool) {
		if req.URI == "/missing" {
			return "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", false
		}
		return "HTTP/1.1 200 OK\r\nContent-Length: 1234\r\nLast-Modified: Tue, 15 Nov 1994 08:12:31 GMT\r\n\r\n", false
	})
	p := s.lookup(c, "/file.txt", nil)
	c.Check(p.Exists(), check.Equals, true)
	c.Check(p.IsFile(), check.Equals, true)
	c.Check(p.Length(), check.Equals, int64(1234))
	c.Check(p.LastModified().Equal(time.Date(1994, 11, 15, 8, 12, 31, 0, time.UTC)), check.Equals, true)
	c.Check(p.CanRead(), check.Equals, true)
	c.Check(s.srv.Requests(), check.HasLen, 1)
	c.Check(s.srv.Requests()[0].Method, check.Equals, "HEAD")

	s.clk.Advance(6 * time.Second)
	c.Check(p.Exists(), check.Equals, true)
	c.Check(s.srv.Requests(), check.HasLen, 2)

	c.Check(s.lookup(c, "/missing", nil).Exists(), check.Equals, false)
	c.Check(s.lookup(c, "/dir/", nil).IsDirectory(), check.Equals, true)

	c.Check(testutil.ToFloat64(s.client.probes.WithLabelValues("probe")), check.Equals, float64(4))
	c.Check(testutil.ToFloat64(s.client.probes.WithLabelValues("hit")), check.Equals, float64(4))
}

func (s *HTTPSuite) TestStatIgnoresMethodAttribute(c *check.C) {
	s.serve(c, fixed(""))
	p := s.lookup(c, "/form", vfs.Attributes{vfs.AttrMethod: "POST"})
	c.Check(p.Exists(), check.Equals, true)
	c.Assert(s.srv.Requests(), check.HasLen, 1)
	c.Check(s.srv.Requests()[0].Method, check.Equals, "HEAD")
}

func (s *HTTPSuite) TestStatCacheKeyedByQuery(c *check.C) {
	s.serve(c, func(req *recordedRequest) (string, bool) {
		if req.URI == "/search?q=missing" {
			return "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n", false
		}
		return "HTTP/1.1 200 OK\r\nContent-Length: 3\r\n\r\n", false
	})
	c.Check(s.lookup(c, "/search?q=found", nil).Exists(), check.Equals, true)
	c.Check(s.lookup(c, "/search?q=missing", nil).Exists(), check.Equals, false)
	c.Check(s.lookup(c, "/search?q=found", nil).Exists(), check.Equals, true)
	c.Check(s.srv.Requests(), check.HasLen, 2)
}

func (s *HTTPSuite) TestConnectFailure(c *check.C) {
	s.serve(c, fixed(""))
	addr := s.srv.Addr()
	s.srv.Close()
	s.srv = nil
	p, err := s.schemes.Lookup("http://"+addr+"/", nil)
	c.Assert(err, check.IsNil)
	_, err = p.OpenRead()
	c.Check(ioerr.Is(err, ioerr.KindIOFailure), check.Equals, true)
	c.Check(p.Exists(), check.Equals, false)
}

func (s *HTTPSuite) TestURLs(c *check.C) {
	for _, trial := range []struct{ in, url string }{
		{"http://example.com", "http://example.com/"},
		{"http://example.com:80/a/../b", "http://example.com/b"},
		{"http://example.com:8080/x?y=z", "http://example.com:8080/x?y=z"},
		{"https://example.com:443/s", "https://example.com/s"},
		{"https://example.com:80/s", "https://example.com:80/s"},
	} {
		p, err := s.schemes.Lookup(trial.in, nil)
		c.Assert(err, check.IsNil)
		c.Check(p.URL(), check.Equals, trial.url)
	}
	p, _ := s.schemes.Lookup("http://example.com/a/b", nil)
	q, err := p.Lookup("c?d=e", nil)
	c.Assert(err, check.IsNil)
	c.Check(q.URL(), check.Equals, "http://example.com/a/b/c?d=e")
	q, err = p.Lookup("//other.example/z", nil)
	c.Assert(err, check.IsNil)
	c.Check(q.URL(), check.Equals, "http://other.example/z")
}
