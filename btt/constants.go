// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

// On-media constants. These must match across any implementation sharing a
// namespace; changing them changes the wire format.
const (
	// ArenaMax is the largest byte size a single arena may occupy. A
	// namespace is partitioned into ceil(rawsize/ArenaMax)-ish arenas per
	// the rule in computeGeometry.
	ArenaMax = 16 << 20 // 16 MiB

	// ArenaMin is the smallest remainder of a namespace that earns its
	// own trailing arena; a smaller remainder is left unused.
	ArenaMin = 1 << 20 // 1 MiB

	// Alignment is the layout-wide rounding granularity for region
	// sizes (flog region, overall arena geometry).
	Alignment = 4096

	// FlogPairAlign is the padding granularity of one flog slot (a pair
	// of flog entries).
	FlogPairAlign = 64

	// InternalLbaAlignment is the rounding granularity of the internal
	// (post-map) block size.
	InternalLbaAlignment = 64

	// MinLba is the smallest internal (post-map) block size: an external
	// LBA size below it is padded up to MinLba internally.
	MinLba = 512

	// DefaultNfree is the free-pool width used when Options.NFree is
	// zero.
	DefaultNfree = 256

	// MapEntrySize is the fixed size, in bytes, of one on-media map
	// entry.
	MapEntrySize = 4

	// MajorVersion is the only major layout version this package
	// produces or accepts.
	MajorVersion = 1
	MinorVersion = 1
)

// Map entry bit layout: bits [0,30) hold the internal LBA, bit 30 is the
// ZERO flag, bit 31 is the ERROR flag.
const (
	mapEntryLbaMask = 1<<30 - 1
	mapEntryZero    = 1 << 30
	mapEntryError   = 1 << 31

	// emptyRttSlot is the sentinel value an idle rtt slot holds. It is
	// ERROR|ZERO|0, a value no live map entry can ever equal because a
	// live entry never carries both flags at once over a real block.
	emptyRttSlot = mapEntryError | mapEntryZero
)

// Flag bits stored in an arena info block's Flags field.
const (
	// ErrorMask, once set, disables further writes to the arena; reads
	// of still-valid entries continue to work.
	ErrorMask = 1 << 0
)

// infoSig is the fixed 16-byte signature at the start of every info block.
var infoSig = [16]byte{'B', 'T', 'T', '_', 'A', 'R', 'E', 'N', 'A', '_', 'I', 'N', 'F', 'O', 0, 0}

// infoBlockSize is the fixed, on-media size of one info block: 112 bytes of
// named fields (see layout.go) followed by a 16-byte reserved region zeroed
// on write and ignored on read.
const infoBlockSize = 128
