// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Instance is the library's public surface: Init/Fini lifecycle plus the
// four namespace-facing operations, Read, Write, SetZero and SetError.

package btt

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Instance is one open BTT over a Namespace. The zero value is not usable;
// obtain one from Init.
type Instance struct {
	ns         Namespace
	rawsize    int64
	lbasize    uint32
	parentUUID uuid.UUID
	maxlane    int
	opts       Options

	geoms []arenaGeometry // deterministic regardless of laidout
	nlba  uint64
	nfree uint32 // minimum nfree across arenas; also the lane-count ceiling

	layoutMu sync.Mutex // guards the laidout transition; see ensureLayout
	laidout  atomic.Bool
	arenas   []*arena

	finished atomic.Bool
}

// Init opens or creates a BTT instance over ns. rawsize is the namespace's
// usable byte extent; lbasize is the external logical block size; maxlane
// bounds the number of concurrent lanes the caller intends to use.
// parentUUID is stamped into a fresh layout's info blocks and otherwise
// ignored. If ns already carries a valid layout, that layout's geometry is
// used as-is: opts.NFree is ignored, and lbasize is not compared against the
// layout's stored external LBA size (it only sets the buffer size Read and
// Write accept). Init never rewrites an existing layout.
func Init(ns Namespace, rawsize int64, lbasize uint32, parentUUID uuid.UUID, maxlane int, opts Options) (*Instance, error) {
	if ns == nil {
		return nil, &ErrInvalidArg{"Init: nil namespace", nil}
	}
	if rawsize <= 0 {
		return nil, &ErrInvalidArg{"Init: non-positive rawsize", rawsize}
	}
	if maxlane <= 0 {
		return nil, &ErrInvalidArg{"Init: non-positive maxlane", maxlane}
	}
	if lbasize == 0 {
		lbasize = MinLba
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	lr, err := readLayout(ns, rawsize, lbasize, opts.NFree)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		ns:         ns,
		rawsize:    rawsize,
		lbasize:    lbasize,
		parentUUID: parentUUID,
		maxlane:    maxlane,
		opts:       opts,
		geoms:      lr.geoms,
		nfree:      lr.nfree,
	}
	inst.nlba = sumExternal(lr.geoms)

	if lr.laidout {
		if err := inst.loadArenas(lr.geoms); err != nil {
			return nil, err
		}
		inst.laidout.Store(true)
	}

	return inst, nil
}

// Fini releases inst's runtime state. It performs no namespace I/O: every
// BTT operation is durable on return, so there is nothing left to flush.
// Using inst after Fini returns ErrPerm.
func (inst *Instance) Fini() {
	inst.finished.Store(true)
	inst.arenas = nil
}

// NLane returns the number of lanes this instance supports: the lesser of
// the namespace's free-pool width and the caller's requested maxlane.
func (inst *Instance) NLane() int {
	n := int(inst.nfree)
	if inst.maxlane < n {
		n = inst.maxlane
	}
	return n
}

// Nlba returns the total number of external LBAs addressable by inst.
func (inst *Instance) Nlba() uint64 { return inst.nlba }

func sumExternal(geoms []arenaGeometry) uint64 {
	var n uint64
	for _, g := range geoms {
		n += uint64(g.externalNlba)
	}
	return n
}

func (inst *Instance) loadArenas(geoms []arenaGeometry) error {
	arenas := make([]*arena, len(geoms))
	for i, g := range geoms {
		a, err := newArena(inst.ns, g)
		if err != nil {
			return err
		}
		arenas[i] = a
	}
	inst.arenas = arenas
	return nil
}

// ensureLayout lazily creates the on-media layout and the runtime arenas on
// the first Write or SetError, deferring layout creation until one of those
// calls actually needs it. The double-checked laidout flag lets the common,
// already-laid-out case skip the mutex entirely.
func (inst *Instance) ensureLayout() error {
	if inst.laidout.Load() {
		return nil
	}
	inst.layoutMu.Lock()
	defer inst.layoutMu.Unlock()
	if inst.laidout.Load() {
		return nil
	}
	if err := writeLayout(inst.ns, inst.geoms, inst.parentUUID); err != nil {
		return err
	}
	if err := inst.loadArenas(inst.geoms); err != nil {
		return err
	}
	inst.laidout.Store(true)
	return nil
}

// resolve maps an external LBA to its owning arena and the pre-map LBA
// within that arena's map array.
func (inst *Instance) resolve(lba uint64) (int, uint32, error) {
	remaining := lba
	for i, g := range inst.geoms {
		if remaining < uint64(g.externalNlba) {
			return i, uint32(remaining), nil
		}
		remaining -= uint64(g.externalNlba)
	}
	return 0, 0, &ErrInvalidArg{"resolve: lba out of range", lba}
}

func (inst *Instance) checkArgs(lane int, lba uint64, buf []byte) error {
	if inst.finished.Load() {
		return &ErrPerm{"use of Instance after Fini"}
	}
	if lane < 0 || lane >= inst.NLane() {
		return &ErrInvalidArg{"lane out of range", lane}
	}
	if lba >= inst.nlba {
		return &ErrInvalidArg{"lba out of range", lba}
	}
	if uint32(len(buf)) != inst.lbasize {
		return &ErrInvalidArg{"buffer size does not match external lbasize", len(buf)}
	}
	return nil
}

// Read publishes the block it intends to read into the arena's rtt before
// touching it, so a concurrent writer reusing that block waits for the read
// to finish. An unlaid-out instance reads as all zeros: nothing has ever
// been written to it.
func (inst *Instance) Read(lane int, lba uint64, buf []byte) error {
	if err := inst.checkArgs(lane, lba, buf); err != nil {
		return err
	}
	if !inst.laidout.Load() {
		zeroBuf(buf)
		return nil
	}

	idx, preMapLba, err := inst.resolve(lba)
	if err != nil {
		return err
	}
	a := inst.arenas[idx]

	for {
		entry, err := a.readMapEntryUnlocked(preMapLba)
		if err != nil {
			return err
		}
		if entry&mapEntryError != 0 {
			return &ErrIO{"read of a block flagged in error"}
		}
		if entry&mapEntryZero != 0 {
			zeroBuf(buf)
			return nil
		}

		a.rttPublish(lane, entry)

		// Re-read after publishing: if a writer remapped this
		// pre-map LBA between our first read and the publish, the
		// rtt entry we just stored may reference a block a writer
		// is about to reuse without ever waiting on us. Re-checking
		// and retrying closes that race.
		entry2, err := a.readMapEntryUnlocked(preMapLba)
		if err != nil {
			a.rttClear(lane)
			return err
		}
		if entry2 != entry {
			continue
		}

		off := a.geo.dataoff + int64(entry)*int64(a.geo.internalLbasize)
		err = a.ns.Read(lane, buf, off)
		a.rttClear(lane)
		return err
	}
}

// Write allocates the lane's owned free block, writes the data into it,
// commits the remap via the flog, then publishes the new map entry.
func (inst *Instance) Write(lane int, lba uint64, buf []byte) error {
	if err := inst.checkArgs(lane, lba, buf); err != nil {
		return err
	}
	if err := inst.ensureLayout(); err != nil {
		return err
	}

	idx, preMapLba, err := inst.resolve(lba)
	if err != nil {
		return err
	}
	a := inst.arenas[idx]
	if a.errored.Load() {
		return &ErrIO{"write to an arena flagged in error"}
	}

	free := a.freeBlock(lane)
	a.waitFreeBlockClear(free)

	off := a.geo.dataoff + int64(free)*int64(a.geo.internalLbasize)
	if err := a.ns.Write(lane, buf, off); err != nil {
		return err
	}

	oldEntry, err := a.mapLock(preMapLba)
	if err != nil {
		return err
	}

	if err := a.flogUpdate(lane, preMapLba, oldEntry, free); err != nil {
		a.mapAbort(preMapLba)
		return err
	}

	// The remap already committed in the flog; a crash from here on
	// recovers the map entry from the flog on reopen, so a failure
	// writing the map itself is not fatal to durability, only to this
	// call's return value.
	return a.mapUnlock(preMapLba, free)
}

// SetZero marks lba's current block as reading-as-zero without allocating a
// new block or touching the flog. An unlaid-out instance is already all
// zeros, so this is a no-op.
func (inst *Instance) SetZero(lane int, lba uint64) error {
	if err := inst.checkFlagArgs(lane, lba); err != nil {
		return err
	}
	if !inst.laidout.Load() {
		return nil
	}
	return inst.setFlag(lane, lba, mapEntryZero)
}

// SetError marks lba's current block as reading back an I/O error. Unlike
// SetZero this forces layout creation, since there is no block to flag
// before one has ever been allocated.
func (inst *Instance) SetError(lane int, lba uint64) error {
	if err := inst.checkFlagArgs(lane, lba); err != nil {
		return err
	}
	if err := inst.ensureLayout(); err != nil {
		return err
	}
	return inst.setFlag(lane, lba, mapEntryError)
}

func (inst *Instance) checkFlagArgs(lane int, lba uint64) error {
	if inst.finished.Load() {
		return &ErrPerm{"use of Instance after Fini"}
	}
	if lane < 0 || lane >= inst.NLane() {
		return &ErrInvalidArg{"lane out of range", lane}
	}
	if lba >= inst.nlba {
		return &ErrInvalidArg{"lba out of range", lba}
	}
	return nil
}

func (inst *Instance) setFlag(lane int, lba uint64, flag uint32) error {
	idx, preMapLba, err := inst.resolve(lba)
	if err != nil {
		return err
	}
	a := inst.arenas[idx]
	if a.errored.Load() {
		return &ErrIO{"flag update on an arena flagged in error"}
	}

	oldEntry, err := a.mapLock(preMapLba)
	if err != nil {
		return err
	}
	return a.mapUnlock(preMapLba, oldEntry|flag)
}

func zeroBuf(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
