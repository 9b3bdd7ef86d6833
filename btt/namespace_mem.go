// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// A memory-only implementation of Namespace, used by tests and by the
// power-fail property-test fault injector in internal/simns.

package btt

import (
	"bytes"
	"sync"
	"unsafe"

	"github.com/cznic/mathutil"
)

const (
	memPgBits = 12
	memPgSize = 1 << memPgBits
	memPgMask = memPgSize - 1
)

var memZeroPage [memPgSize]byte

type memNamespacePages map[int64]*[memPgSize]byte

// MemNamespace is a Namespace backed entirely by process memory. It has no
// durability of its own beyond the process lifetime; it exists so tests can
// exercise the BTT core without a real storage device, and so a fault
// injector can wrap it to simulate torn writes.
type MemNamespace struct {
	m       memNamespacePages
	size    int64
	mapMu   sync.Mutex
	mapped  map[uintptr]int64 // first-byte address -> namespace offset, for Map/Sync pairing
}

// NewMemNamespace returns a zero-sized MemNamespace that grows to size on
// first write, matching how an os.File backed namespace starts empty until
// the caller truncates it. Most callers instead want NewMemNamespaceSize.
func NewMemNamespace() *MemNamespace {
	return &MemNamespace{m: memNamespacePages{}, mapped: map[uintptr]int64{}}
}

// NewMemNamespaceSize returns a zero-filled MemNamespace of the given size,
// the shape every BTT Namespace is expected to have: a fixed byte range the
// BTT never resizes.
func NewMemNamespaceSize(size int64) *MemNamespace {
	return &MemNamespace{m: memNamespacePages{}, size: size, mapped: map[uintptr]int64{}}
}

// Size implements Namespace.
func (f *MemNamespace) Size() int64 { return f.size }

// Read implements Namespace.
func (f *MemNamespace) Read(lane int, b []byte, off int64) error {
	avail := f.size - off
	pgI := off >> memPgBits
	pgO := int(off & memPgMask)
	rem := len(b)
	if int64(rem) > avail {
		rem = int(mathutil.MaxInt64(avail, 0))
		for i := rem; i < len(b); i++ {
			b[i] = 0
		}
	}
	for rem != 0 {
		pg := f.m[pgI]
		if pg == nil {
			pg = &memZeroPage
		}
		nc := copy(b[:mathutil.Min(rem, memPgSize)], pg[pgO:])
		pgI++
		pgO = 0
		rem -= nc
		b = b[nc:]
	}
	return nil
}

// Write implements Namespace.
func (f *MemNamespace) Write(lane int, b []byte, off int64) error {
	end := off + int64(len(b))
	pgI := off >> memPgBits
	pgO := int(off & memPgMask)
	rem := len(b)
	for rem != 0 {
		var nc int
		if pgO == 0 && rem >= memPgSize && bytes.Equal(b[:memPgSize], memZeroPage[:]) {
			delete(f.m, pgI)
			nc = memPgSize
		} else {
			pg := f.m[pgI]
			if pg == nil {
				pg = new([memPgSize]byte)
				f.m[pgI] = pg
			}
			nc = copy((*pg)[pgO:], b)
		}
		pgI++
		pgO = 0
		rem -= nc
		b = b[nc:]
	}
	f.size = mathutil.MaxInt64(f.size, end)
	return nil
}

// Map implements Namespace. The returned window is a private copy, not a
// live view of the backing pages: MemNamespace has no single contiguous
// buffer to return a slice into, so edits made through it are only
// persisted once Sync is called with the same slice.
func (f *MemNamespace) Map(lane int, off int64, n int) ([]byte, error) {
	avail := f.size - off
	if int64(n) > avail {
		n = int(mathutil.MaxInt64(avail, 0))
	}
	b := make([]byte, n)
	if err := f.Read(lane, b, off); err != nil {
		return nil, err
	}

	f.mapMu.Lock()
	if n > 0 {
		f.mapped[uintptr(unsafe.Pointer(&b[0]))] = off
	}
	f.mapMu.Unlock()
	return b, nil
}

// Sync implements Namespace. window must be a slice previously returned by
// Map; MemNamespace records the offset it was mapped at and writes the
// current contents of window back to the namespace.
func (f *MemNamespace) Sync(lane int, window []byte) error {
	if len(window) == 0 {
		return nil
	}

	key := uintptr(unsafe.Pointer(&window[0]))
	f.mapMu.Lock()
	off, ok := f.mapped[key]
	f.mapMu.Unlock()
	if !ok {
		return &ErrInvalidArg{"MemNamespace.Sync: window not returned by Map", nil}
	}

	return f.Write(lane, window, off)
}

// WriteAt is a direct, non-lane-qualified write helper for test setup code
// that wants to seed a namespace without going through a lane.
func (f *MemNamespace) WriteAt(b []byte, off int64) error {
	return f.Write(0, b, off)
}
