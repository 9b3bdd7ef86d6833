// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A Fletcher-style checksum for info blocks, hand-rolled because the wire
// format pins this specific algorithm and no general-purpose checksum
// library implements it.

package btt

import "encoding/binary"

// fletcher64 computes a 64-bit Fletcher checksum over data, which must have
// a length that is a multiple of 4. It treats data as a sequence of
// little-endian uint32 words and accumulates two interleaved running sums,
// the classic Fletcher-64 construction.
func fletcher64(data []byte) uint64 {
	var lo, hi uint32
	for i := 0; i+4 <= len(data); i += 4 {
		lo += binary.LittleEndian.Uint32(data[i : i+4])
		hi += lo
	}
	return uint64(hi)<<32 | uint64(lo)
}
