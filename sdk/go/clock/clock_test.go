// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"

	check "gopkg.in/check.v1"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&clockSuite{})

type clockSuite struct{}

func (s *clockSuite) TestFake(c *check.C) {
	t0 := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	fc := Fake(t0)
	c.Check(fc.Now(), check.Equals, t0)
	fc.Advance(99 * time.Millisecond)
	c.Check(fc.Now().Sub(t0), check.Equals, 99*time.Millisecond)
	fc.Set(t0)
	c.Check(fc.Now(), check.Equals, t0)
}

func (s *clockSuite) TestOr(c *check.C) {
	c.Check(Or(nil), check.Equals, Real())
	fc := Fake(time.Time{})
	c.Check(Or(fc), check.Equals, Clock(fc))
}
