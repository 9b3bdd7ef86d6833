// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The map engine: per-arena map-entry spinlocks striped by pre-map LBA, and
// the locked read/modify/write of one map entry.

package btt

import (
	"encoding/binary"
	"runtime"
	"sync/atomic"
)

// spinlock is a minimal mutual-exclusion primitive backed by a single
// atomic flag. lock() yields the processor between attempts rather than
// busy-looping, the same short back-off used elsewhere for the rtt wait.
type spinlock struct {
	held atomic.Bool
}

func (s *spinlock) lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinlock) unlock() {
	s.held.Store(false)
}

// mapLock acquires the lock striping pre-map LBA preMapLba (index
// preMapLba % nfree) and returns the current on-media map entry. The
// caller must eventually call mapUnlock or mapAbort to release it; no
// other arena lock may be acquired while holding this one.
func (a *arena) mapLock(preMapLba uint32) (uint32, error) {
	idx := preMapLba % a.geo.nfree
	a.mapLocks[idx].lock()

	buf := make([]byte, MapEntrySize)
	off := a.geo.mapoff + int64(preMapLba)*MapEntrySize
	if err := a.ns.Read(0, buf, off); err != nil {
		a.mapLocks[idx].unlock()
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// readMapEntryUnlocked reads the map entry at preMapLba without acquiring
// its stripe lock. The read path uses this: it synchronizes against
// concurrent writers through the rtt publish/re-check protocol instead, not
// through the map locks, which exist to serialize writers against each
// other.
func (a *arena) readMapEntryUnlocked(preMapLba uint32) (uint32, error) {
	buf := make([]byte, MapEntrySize)
	off := a.geo.mapoff + int64(preMapLba)*MapEntrySize
	if err := a.ns.Read(0, buf, off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// mapUnlock writes newEntry to the map array at preMapLba and releases the
// lock acquired by mapLock.
func (a *arena) mapUnlock(preMapLba, newEntry uint32) error {
	idx := preMapLba % a.geo.nfree
	defer a.mapLocks[idx].unlock()

	buf := make([]byte, MapEntrySize)
	binary.LittleEndian.PutUint32(buf, newEntry)
	off := a.geo.mapoff + int64(preMapLba)*MapEntrySize
	return a.ns.Write(0, buf, off)
}

// mapAbort releases the lock acquired by mapLock without writing a new
// entry.
func (a *arena) mapAbort(preMapLba uint32) {
	a.mapLocks[preMapLba%a.geo.nfree].unlock()
}
