// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Arena runtime state: flog slots, the read-tracking table, and map locks.
// Built once, at arena-open time, from a validated arenaGeometry; never
// destroyed for the lifetime of the owning Instance.

package btt

import (
	"encoding/binary"
	"sync/atomic"
)

// arena is the in-memory runtime state of one BTT arena.
type arena struct {
	ns  Namespace
	geo arenaGeometry

	flog     []flogState // len == nfree, slot k owned exclusively by lane k
	rtt      []atomic.Uint32
	mapLocks []spinlock

	errored  atomic.Bool // set at open from the info block's ErrorMask flag, or by a seq collision
	seqFault *ErrIllSeq  // set once, at open, if a flog pair parse found a seq collision
}

// flogState is the per-lane, per-arena runtime mirror of one flog slot:
// the offsets of its two halves, which one is current, and a host-order
// cache of the live entry. oldMap is this lane's currently owned free
// block.
type flogState struct {
	halfOff  [2]int64 // absolute offsets of the two 16-byte halves
	cur      int      // index of the half considered current
	preMapLba uint32
	oldMap   uint32
	newMap   uint32
	seq      uint32
}

// nseq advances a flog sequence number 1->2->3->1; 0 (an unwritten half)
// advances to 1.
func nseq(s uint32) uint32 {
	switch s {
	case 1:
		return 2
	case 2:
		return 3
	case 3:
		return 1
	default:
		return 1
	}
}

// decodeFlogHalf reads one 16-byte flog record into its four host-order
// fields.
func decodeFlogHalf(b []byte) (preMapLba, oldMap, newMap, seq uint32) {
	le := binary.LittleEndian
	return le.Uint32(b[0:4]), le.Uint32(b[4:8]), le.Uint32(b[8:12]), le.Uint32(b[12:16])
}

func encodeFlogHalf(preMapLba, oldMap, newMap, seq uint32) []byte {
	b := make([]byte, flogEntrySize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], preMapLba)
	le.PutUint32(b[4:8], oldMap)
	le.PutUint32(b[8:12], newMap)
	le.PutUint32(b[12:16], seq)
	return b
}

// newArena builds the runtime state for one arena: it loads and parses
// every flog pair (performing map recovery where required), and
// initializes the rtt and map locks.
func newArena(ns Namespace, geo arenaGeometry) (*arena, error) {
	a := &arena{
		ns:       ns,
		geo:      geo,
		flog:     make([]flogState, geo.nfree),
		rtt:      make([]atomic.Uint32, geo.nfree),
		mapLocks: make([]spinlock, geo.nfree),
	}
	for i := range a.rtt {
		a.rtt[i].Store(emptyRttSlot)
	}

	infoBuf := make([]byte, infoBlockSize)
	if err := ns.Read(0, infoBuf, geo.base); err != nil {
		return nil, err
	}
	if info, err := decodeInfoBlock(infoBuf); err == nil && info.Flags&ErrorMask != 0 {
		a.errored.Store(true)
	}

	slotSize := roundUp(2*flogEntrySize, FlogPairAlign)
	for k := uint32(0); k < geo.nfree; k++ {
		slotOff := geo.flogoff + int64(k)*slotSize
		halfA := slotOff
		halfB := slotOff + flogEntrySize

		bufA := make([]byte, flogEntrySize)
		bufB := make([]byte, flogEntrySize)
		if err := ns.Read(0, bufA, halfA); err != nil {
			return nil, err
		}
		if err := ns.Read(0, bufB, halfB); err != nil {
			return nil, err
		}

		lbaA, oldA, newA, seqA := decodeFlogHalf(bufA)
		lbaB, oldB, newB, seqB := decodeFlogHalf(bufB)

		var cur int
		switch {
		case seqA != 0 && seqA == seqB:
			a.errored.Store(true)
			a.seqFault = &ErrIllSeq{Type: ErrFlogSeqCollision, Off: slotOff, Arg: k}
			if err := a.persistError(); err != nil {
				return nil, err
			}
			cur = 0
		case seqA == 0 && seqB == 0:
			// Neither half has ever been written: treat half A as live.
			cur = 0
		case seqA == 0:
			cur = 1
		case seqB == 0:
			cur = 0
		case nseq(seqA) == seqB:
			cur = 1
		case nseq(seqB) == seqA:
			cur = 0
		default:
			cur = 0
		}

		fs := flogState{halfOff: [2]int64{halfA, halfB}, cur: cur}
		if cur == 0 {
			fs.preMapLba, fs.oldMap, fs.newMap, fs.seq = lbaA, oldA, newA, seqA
		} else {
			fs.preMapLba, fs.oldMap, fs.newMap, fs.seq = lbaB, oldB, newB, seqB
		}
		a.flog[k] = fs

		if !a.errored.Load() && fs.oldMap != fs.newMap {
			if err := a.recoverFlogEntry(fs); err != nil {
				return nil, err
			}
		}
	}

	return a, nil
}

// recoverFlogEntry rolls forward one current flog entry whose old_map !=
// new_map: the prior write may have committed the flog but not the map.
func (a *arena) recoverFlogEntry(fs flogState) error {
	buf := make([]byte, MapEntrySize)
	mapOff := a.geo.mapoff + int64(fs.preMapLba)*MapEntrySize
	if err := a.ns.Read(0, buf, mapOff); err != nil {
		return err
	}
	live := binary.LittleEndian.Uint32(buf)

	switch live {
	case fs.oldMap:
		// Transaction committed in the flog but the map update never
		// landed; roll it forward.
		binary.LittleEndian.PutUint32(buf, fs.newMap)
		return a.ns.Write(0, buf, mapOff)
	default:
		// live == fs.newMap: already rolled forward, nothing to do.
		// live == anything else: this entry was superseded by a later
		// transaction on the same pre-map LBA; nothing to do.
		return nil
	}
}

// persistError ORs ErrorMask into both of the arena's on-media info block
// copies, so the fault survives a reopen.
func (a *arena) persistError() error {
	return patchInfoFlags(a.ns, a.geo, ErrorMask)
}
