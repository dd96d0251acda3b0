// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package cursor

// Bits extracts sub-fields from a packed integer,
// such as Zip general purpose flags or MS-DOS date and time words.
type Bits uint64

// Field returns width bits starting at bit lo (bit 0 is least significant).
func (b Bits) Field(lo, width uint) uint64 {
	return uint64(b) >> lo & (1<<width - 1)
}

func (b Bits) Has(bit uint) bool { return b>>bit&1 != 0 }

// Any reports whether any bit of mask is set.
func (b Bits) Any(mask uint64) bool { return uint64(b)&mask != 0 }
