// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ioerr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&errorSuite{})

type errorSuite struct{}

func (s *errorSuite) TestKindSentinels(c *check.C) {
	err := fmt.Errorf("wrapped: %w", NotFound("stat", "memory:/x"))
	c.Check(errors.Is(err, ErrNotFound), check.Equals, true)
	c.Check(errors.Is(err, ErrIOFailure), check.Equals, false)
	c.Check(errors.Is(err, fs.ErrNotExist), check.Equals, true)
	c.Check(KindOf(err), check.Equals, KindNotFound)
	c.Check(KindOf(errors.New("plain")), check.Equals, Kind(0))
	c.Check(KindOf(nil), check.Equals, Kind(0))
}

func (s *errorSuite) TestUnknownScheme(c *check.C) {
	err := UnknownScheme("bogus:/foo")
	c.Check(errors.Is(err, ErrUnknownScheme), check.Equals, true)
	c.Check(errors.Is(err, ErrNotFound), check.Equals, true)
	c.Check(errors.Is(NotFound("stat", "x"), ErrUnknownScheme), check.Equals, false)
	c.Check(err.Error(), check.Equals, "lookup: not found: bogus:/foo: unknown scheme")
}

func (s *errorSuite) TestClosed(c *check.C) {
	err := Closed("read", "memory:/x")
	c.Check(errors.Is(err, ErrClosed), check.Equals, true)
	c.Check(errors.Is(err, ErrResourceMisuse), check.Equals, true)
	c.Check(Is(err, KindResourceMisuse), check.Equals, true)
}

func (s *errorSuite) TestFromOS(c *check.C) {
	_, err := os.Open("/nonexistent/ioerr-test-file")
	c.Check(KindOf(FromOS("open", "/nonexistent/ioerr-test-file", err)), check.Equals, KindNotFound)
	c.Check(KindOf(FromOS("write", "x", errors.New("disk on fire"))), check.Equals, KindIOFailure)
	c.Check(FromOS("x", "y", nil), check.IsNil)
	orig := Errorf(KindProtocolViolation, "read", "http://h/", "bad chunk %q", "zz")
	c.Check(FromOS("read", "other", orig), check.Equals, error(orig))
}
