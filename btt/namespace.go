// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An abstraction of a linear, byte-addressable storage namespace that
// guarantees only byte-level durability. The BTT maps external LBAs onto
// this namespace; it never resizes or reinterprets it outside the four
// operations below.

package btt

import "github.com/cznic/mathutil"

// A Namespace is the host-provided storage the BTT instance is built over.
// It is a []byte-like model of a contiguous byte range of size Size(),
// addressed by absolute offset. Unlike a Filer, a Namespace carries no
// transaction or nesting machinery of its own: the BTT is the only source of
// structural integrity and a Namespace only needs to honor the durability
// contract of Write.
//
// Every method takes a lane so callers may pre-shard I/O resources (file
// descriptors, DMA buffers, ...) per concurrent caller; the Namespace itself
// is free to ignore the lane.
type Namespace interface {
	// Size reports the namespace's byte size, fixed for the namespace's
	// lifetime; the BTT never resizes it.
	Size() int64

	// Read performs a durable read of len(b) bytes starting at off into b.
	Read(lane int, b []byte, off int64) error

	// Write performs a durable write: once Write returns, b is visible to
	// any subsequent Read and survives power loss.
	Write(lane int, b []byte, off int64) error

	// Map returns a direct-access window onto up to n bytes starting at
	// off. The returned slice may be shorter than n. Changes made through
	// the returned slice are not guaranteed durable until Sync.
	Map(lane int, off int64, n int) ([]byte, error)

	// Sync flushes a window previously returned by Map.
	Sync(lane int, window []byte) error
}

var _ Namespace = &windowNamespace{}

// A windowNamespace is a Namespace with added addressing/size translation,
// used to give an arena namespace-absolute offsets to I/O against while the
// on-media layout records them arena-relative. The same role InnerFiler
// played for a Filer.
type windowNamespace struct {
	outer Namespace
	off   int64
	size  int64
}

// newWindowNamespace returns a Namespace wrapping outer in a way which adds
// off to every access and reports size as its own Size(), regardless of
// outer's actual remaining size. off and size must both be >= 0 and
// off+size <= outer.Size().
func newWindowNamespace(outer Namespace, off, size int64) *windowNamespace {
	return &windowNamespace{outer: outer, off: off, size: size}
}

// Size implements Namespace.
func (w *windowNamespace) Size() int64 { return w.size }

// Read implements Namespace. off must be >= 0.
func (w *windowNamespace) Read(lane int, b []byte, off int64) error {
	if off < 0 {
		return &ErrInvalidArg{"windowNamespace.Read: negative off", off}
	}

	return w.outer.Read(lane, b, w.off+off)
}

// Write implements Namespace. off must be >= 0.
func (w *windowNamespace) Write(lane int, b []byte, off int64) error {
	if off < 0 {
		return &ErrInvalidArg{"windowNamespace.Write: negative off", off}
	}

	return w.outer.Write(lane, b, w.off+off)
}

// Map implements Namespace.
func (w *windowNamespace) Map(lane int, off int64, n int) ([]byte, error) {
	if off < 0 {
		return nil, &ErrInvalidArg{"windowNamespace.Map: negative off", off}
	}

	avail := w.size - off
	if int64(n) > avail {
		n = int(mathutil.MaxInt64(avail, 0))
	}

	return w.outer.Map(lane, w.off+off, n)
}

// Sync implements Namespace.
func (w *windowNamespace) Sync(lane int, window []byte) error {
	return w.outer.Sync(lane, window)
}
