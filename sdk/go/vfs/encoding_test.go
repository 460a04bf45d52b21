// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"errors"

	"github.com/CleverCloud/Quercus-sub014/sdk/go/ioerr"
	"golang.org/x/text/encoding/charmap"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&EncodingSuite{})

type EncodingSuite struct{}

func (s *EncodingSuite) TestMimeName(c *check.C) {
	for in, expect := range map[string]string{
		"latin1":      "ISO-8859-1",
		"8859_1":      "ISO-8859-1",
		"iso_8859-1":  "ISO-8859-1",
		"utf8":        "utf-8",
		"UTF-8":       "utf-8",
		"sjis":        "Shift_JIS",
		"big-5":       "Big5",
		"cp1252":      "windows-1252",
		"ascii":       "US-ASCII",
		"x-something": "X-SOMETHING",
	} {
		c.Check(MimeName(in), check.Equals, expect, check.Commentf("%s", in))
	}
}

func (s *EncodingSuite) TestLocale(c *check.C) {
	for in, expect := range map[string]string{
		"ja":    "Shift_JIS",
		"ja_JP": "Shift_JIS",
		"zh_TW": "Big5",
		"zh":    "GB2312",
		"ko":    "EUC-KR",
		"ru":    "ISO-8859-5",
		"en_US": "ISO-8859-1",
		"el":    "ISO-8859-7",
		"tr":    "ISO-8859-9",
		"":      "utf-8",
		"xx":    "utf-8",
	} {
		c.Check(MimeNameForLocale(in), check.Equals, expect, check.Commentf("%s", in))
	}
}

func (s *EncodingSuite) TestLookup(c *check.C) {
	e, err := LookupEncoding("cp1252")
	c.Assert(err, check.IsNil)
	c.Check(e.Name(), check.Equals, "windows-1252")
	c.Check(e.Encoding(), check.Equals, charmap.Windows1252)

	e, err = LookupEncoding("")
	c.Check(err, check.IsNil)
	c.Check(e, check.Equals, Latin1)

	_, err = LookupEncoding("no-such-charset")
	c.Check(errors.Is(err, ioerr.ErrUnsupported), check.Equals, true)
}

func (s *EncodingSuite) TestRegister(c *check.C) {
	RegisterEncoding("x-test-koi", charmap.KOI8R)
	e, err := LookupEncoding("X_TEST_KOI")
	c.Assert(err, check.IsNil)
	c.Check(e.Name(), check.Equals, "X-TEST-KOI")
	c.Check(e.Encoding(), check.Equals, charmap.KOI8R)
}
