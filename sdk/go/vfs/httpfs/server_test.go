// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package httpfs

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	check "gopkg.in/check.v1"
)

// recordedRequest is what the scripted server saw.
type recordedRequest struct {
	Method string
	URI    string
	Proto  string
	Header http.Header
	Host   string
	Body   string
}

// scriptedServer accepts raw connections and answers each request
// with whatever respond returns, verbatim. If respond returns
// closeAfter, the connection is closed after the response.
type scriptedServer struct {
	ln       net.Listener
	accepts  int32
	respond  func(req *recordedRequest) (resp string, closeAfter bool)
	mtx      sync.Mutex
	requests []*recordedRequest
	wg       sync.WaitGroup
}

func newScriptedServer(c *check.C, respond func(*recordedRequest) (string, bool)) *scriptedServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, check.IsNil)
	srv := &scriptedServer{ln: ln, respond: respond}
	srv.wg.Add(1)
	go srv.serve()
	return srv
}

func (srv *scriptedServer) serve() {
	defer srv.wg.Done()
	for {
		conn, err := srv.ln.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&srv.accepts, 1)
		go srv.handle(conn)
	}
}

func (srv *scriptedServer) handle(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		body, _ := io.ReadAll(req.Body)
		rec := &recordedRequest{
			Method: req.Method,
			URI:    req.RequestURI,
			Proto:  req.Proto,
			Header: req.Header,
			Host:   req.Host,
			Body:   string(body),
		}
		srv.mtx.Lock()
		srv.requests = append(srv.requests, rec)
		srv.mtx.Unlock()
		resp, closeAfter := srv.respond(rec)
		if _, err := io.WriteString(conn, resp); err != nil || closeAfter {
			return
		}
	}
}

func (srv *scriptedServer) Accepts() int {
	return int(atomic.LoadInt32(&srv.accepts))
}

func (srv *scriptedServer) Requests() []*recordedRequest {
	srv.mtx.Lock()
	defer srv.mtx.Unlock()
	return append([]*recordedRequest(nil), srv.requests...)
}

func (srv *scriptedServer) Addr() string { return srv.ln.Addr().String() }

func (srv *scriptedServer) Close() {
	srv.ln.Close()
}
