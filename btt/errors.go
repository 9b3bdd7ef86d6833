// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import "fmt"

// ErrInvalidArg reports an out-of-range or otherwise invalid argument, e.g.
// an external LBA outside [0, Nlba()).
type ErrInvalidArg struct {
	Msg string
	Arg interface{}
}

func (e *ErrInvalidArg) Error() string { return fmt.Sprintf("%s: %v", e.Msg, e.Arg) }

// ErrPerm reports a use of the API that violates its contract, such as an
// operation on an instance that has already been torn down by Fini.
type ErrPerm struct {
	Msg string
}

func (e *ErrPerm) Error() string { return e.Msg }

// Illegal-sequence fault kinds reported by ErrIllSeq.
const (
	// ErrFlogSeqCollision: both halves of a flog pair have the same
	// non-zero sequence number.
	ErrFlogSeqCollision = iota

	// ErrDupPostMapLba: Check found the same internal LBA reachable from
	// more than one map entry or flog old_map field.
	ErrDupPostMapLba

	// ErrMissingPostMapLba: Check found an internal LBA reachable from
	// neither the map nor the flog.
	ErrMissingPostMapLba

	// ErrBadInfoBlock: an info block's signature, major version, or
	// checksum failed validation past the point where "unlaid-out" is
	// still a legitimate reading.
	ErrBadInfoBlock
)

// ErrIllSeq reports an arena-internal consistency fault: a flog sequence
// collision discovered while loading an arena, or a duplicate/missing
// post-map LBA discovered by Check. Discovering ErrFlogSeqCollision marks
// the arena's ErrorMask flag and makes it read-only, and is attached to
// ArenaReport.SeqFault; ErrDupPostMapLba and ErrMissingPostMapLba are
// informational, surfaced through ArenaReport.Faults rather than through a
// returned error (per the spec, Check returns "inconsistent", not an
// error, for these).
type ErrIllSeq struct {
	Type int
	Off  int64
	Arg  interface{}
}

func (e *ErrIllSeq) Error() string {
	return fmt.Sprintf("illegal sequence at offset %d: %v", e.Off, e.Arg)
}

// ErrIO reports a BTT-raised I/O failure that did not come from the
// namespace adapter itself: a read that landed on a map entry with the
// ERROR flag set, or a Write, SetZero or SetError on an arena whose
// ErrorMask flag is set. Failures returned verbatim by the namespace adapter are not wrapped
// in this type.
type ErrIO struct {
	Msg string
}

func (e *ErrIO) Error() string { return e.Msg }
