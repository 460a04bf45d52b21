// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package tempbuf

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&PoolSuite{})

type PoolSuite struct{}

func catchMisuse(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	f()
	return nil
}

func (s *PoolSuite) TestDoubleFree(c *check.C) {
	p := NewPool(16, 4, nil, "test")
	b := p.Allocate()
	p.Free(b)
	err := catchMisuse(func() { p.Free(b) })
	c.Assert(err, check.NotNil)
	c.Check(ioerr.Is(err, ioerr.KindResourceMisuse), check.Equals, true)
	c.Check(err, check.ErrorMatches, `.*double free.*`)
}

func (s *PoolSuite) TestDoubleFreeAfterDrop(c *check.C) {
	p := NewPool(16, 0, nil, "test")
	b := p.Allocate()
	b.Free()
	c.Check(p.FreeLen(), check.Equals, 0)
	c.Check(catchMisuse(func() { b.Free() }), check.NotNil)
}

func (s *PoolSuite) TestUseAfterFree(c *check.C) {
	p := NewPool(16, 4, nil, "test")
	b := p.Allocate()
	b.Free()
	c.Check(catchMisuse(func() { b.Write([]byte("x")) }), check.NotNil)
}

func (s *PoolSuite) TestForeignPool(c *check.C) {
	p1 := NewPool(16, 4, nil, "a")
	p2 := NewPool(16, 4, nil, "b")
	b := p1.Allocate()
	c.Check(catchMisuse(func() { p2.Free(b) }), check.NotNil)
	p1.Free(b)
}

func (s *PoolSuite) TestReuse(c *check.C) {
	p := NewPool(16, 4, nil, "test")
	b1 := p.Allocate()
	b1.Write([]byte("abc"))
	b1.Free()
	b2 := p.Allocate()
	c.Check(b2, check.Equals, b1)
	c.Check(b2.Len(), check.Equals, 0)
	c.Check(p.Alloc(), check.Equals, int64(16))
}

func (s *PoolSuite) TestCapacityBound(c *check.C) {
	p := NewPool(8, 2, nil, "test")
	var bufs []*Buffer
	for i := 0; i < 5; i++ {
		bufs = append(bufs, p.Allocate())
	}
	c.Check(p.InUse(), check.Equals, 5)
	c.Check(p.Alloc(), check.Equals, int64(40))
	for _, b := range bufs {
		b.Free()
	}
	c.Check(p.FreeLen(), check.Equals, 2)
	c.Check(p.InUse(), check.Equals, 0)
	c.Check(p.Alloc(), check.Equals, int64(16))
}

func (s *PoolSuite) TestPartialWrite(c *check.C) {
	p := NewPool(4, 4, nil, "test")
	b := p.Allocate()
	defer b.Free()
	c.Check(b.Write([]byte("abcdef")), check.Equals, 4)
	c.Check(string(b.Bytes()), check.Equals, "abcd")
	c.Check(b.Write([]byte("g")), check.Equals, 0)
	b.Reset()
	copy(b.Data(), "wxyz")
	b.SetLen(2)
	c.Check(string(b.Bytes()), check.Equals, "wx")
}

func (s *PoolSuite) TestConcurrent(c *check.C) {
	p := NewPool(32, 8, nil, "test")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Allocate()
				b.Write([]byte("data"))
				b.Free()
			}
		}()
	}
	wg.Wait()
	c.Check(p.InUse(), check.Equals, 0)
	c.Check(p.FreeLen() <= 8, check.Equals, true)
}

func (s *PoolSuite) TestMetrics(c *check.C) {
	reg := prometheus.NewRegistry()
	p := NewPool(100, 4, reg, "test")
	b1, b2 := p.Allocate(), p.Allocate()
	b1.Free()
	count, err := testutil.GatherAndCount(reg)
	c.Check(err, check.IsNil)
	c.Check(count, check.Equals, 3)
	expect := `
# HELP vfs_tempbuf_inuse_buffers Number of buffers in use
# TYPE vfs_tempbuf_inuse_buffers gauge
vfs_tempbuf_inuse_buffers{pool="test"} 1
`
	c.Check(testutil.GatherAndCompare(reg, strings.NewReader(expect), "vfs_tempbuf_inuse_buffers"), check.IsNil)
	b2.Free()
}

func (s *PoolSuite) TestCharBuffer(c *check.C) {
	p := NewCharPool(3, 2)
	b := p.Allocate()
	c.Check(b.WriteString("héllo"), check.Equals, len("hél"))
	c.Check(b.String(), check.Equals, "hél")
	b.Free()
	c.Check(catchMisuse(func() { b.Free() }), check.NotNil)
}

func (s *PoolSuite) TestDefaultPools(c *check.C) {
	b := Allocate(Small)
	c.Check(b.Cap(), check.Equals, SmallSize)
	b.Free()
	cb := AllocateChars(Large)
	c.Check(cb.Cap(), check.Equals, LargeSize)
	cb.Free()
}

var _ = check.Suite(&StreamSuite{})

type StreamSuite struct{}

func (s *StreamSuite) TestChain(c *check.C) {
	p := NewPool(4, 8, nil, "test")
	st := NewStream(p)
	n, err := st.Write([]byte("hello, world"))
	c.Check(err, check.IsNil)
	c.Check(n, check.Equals, 12)
	c.Check(st.Len(), check.Equals, int64(12))
	c.Check(p.InUse(), check.Equals, 3)

	var buf bytes.Buffer
	_, err = st.WriteTo(&buf)
	c.Check(err, check.IsNil)
	c.Check(buf.String(), check.Equals, "hello, world")

	data, err := io.ReadAll(st.Reader())
	c.Check(err, check.IsNil)
	c.Check(string(data), check.Equals, "hello, world")

	st.Destroy()
	st.Destroy()
	c.Check(p.InUse(), check.Equals, 0)
	_, err = st.Write([]byte("x"))
	c.Check(err, check.NotNil)
}
