// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText turns a stored name or comment into a string.
// Without the UTF-8 flag the bytes are IBM code page 437, as written by MS-DOS
// tools, except that plain ASCII passes through untouched.
func decodeText(b []byte, isUTF8 bool) string {
	if isUTF8 || isASCII(b) {
		return escapeInvalid(string(b))
	}
	s, err := charmap.CodePage437.NewDecoder().Bytes(b)
	if err != nil {
		return escapeInvalid(string(b))
	}
	return string(s)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// escapeInvalid percent-encodes every non-ASCII byte of a string that is not
// valid UTF-8, so that the result is at least unambiguous.
func escapeInvalid(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for _, c := range []byte(s) {
		if c < 0x80 && c != '%' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}
