// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"fmt"
	"hash/crc32"
)

func checksum(b []byte) uint32 { return crc32.ChecksumIEEE(b) }

// verifyChecksum compares the CRC-32 of a whole payload with the stored value.
func verifyChecksum(data []byte, want uint32) error {
	if got := checksum(data); got != want {
		return fmt.Errorf("%w: got %08x, want %08x", ErrWrongCRC, got, want)
	}
	return nil
}
