// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Check walks the consistency invariant every internal LBA must satisfy:
// reachable from exactly one place, either a map entry or a lane's
// currently owned free block.

package btt

import (
	"encoding/binary"
	"sort"

	"github.com/cznic/sortutil"
)

// ArenaReport is the detailed result of checking one arena.
type ArenaReport struct {
	// Index is the arena's position in the instance's arena list.
	Index int

	// SeqFault is non-nil if this arena's flog carried a sequence
	// collision when it was opened. A faulted arena has its ErrorMask
	// flag set and is permanently read-only; see newArena.
	SeqFault *ErrIllSeq

	// Duplicate lists, in ascending order, every internal LBA reachable
	// from more than one map entry or flog free-pool slot.
	Duplicate []int64

	// Missing lists, in ascending order, every internal LBA reachable
	// from neither the map nor the flog.
	Missing []int64

	// Faults restates Duplicate and Missing as typed faults, one per
	// offending LBA, in the same ErrIllSeq shape as SeqFault.
	Faults []*ErrIllSeq
}

// consistent reports whether r found anything wrong with its arena.
func (r *ArenaReport) consistent() bool {
	return r.SeqFault == nil && len(r.Duplicate) == 0 && len(r.Missing) == 0
}

// Check walks every arena's map array and flog free-pool state, verifying
// that each internal LBA in [0, internal_nlba) is referenced exactly once.
// A dangling or duplicated reference is reported through ok=false rather
// than as an error: it is a fact about the data, not a failure to compute
// it. Check returns a non-nil error only when it could not complete the
// walk, e.g. a namespace I/O failure. Callers that want to know which LBAs
// are at fault should use CheckReport instead.
func (inst *Instance) Check() (bool, error) {
	reports, err := inst.CheckReport()
	if err != nil {
		return false, err
	}

	consistent := true
	for _, r := range reports {
		if !r.consistent() {
			consistent = false
		}
	}
	return consistent, nil
}

// CheckReport is Check with the offending LBAs attached: one ArenaReport
// per arena, in arena order. An unlaid-out instance has nothing to check
// and reports no arenas.
func (inst *Instance) CheckReport() ([]ArenaReport, error) {
	if inst.finished.Load() {
		return nil, &ErrPerm{"use of Instance after Fini"}
	}
	if !inst.laidout.Load() {
		return nil, nil
	}

	reports := make([]ArenaReport, len(inst.arenas))
	for i, a := range inst.arenas {
		r, err := checkArena(a)
		if err != nil {
			return nil, err
		}
		r.Index = i
		reports[i] = r
	}
	return reports, nil
}

// checkArena scopes its namespace access to a's own byte range via a
// windowNamespace: the checker has no business reading past the arena it
// was asked to verify.
func checkArena(a *arena) (ArenaReport, error) {
	scoped := newWindowNamespace(a.ns, a.geo.base, a.geo.size)
	mapRelOff := a.geo.mapoff - a.geo.base

	refcount := make([]uint8, a.geo.internalNlba)
	bump := func(lba uint32) {
		if lba < uint32(len(refcount)) && refcount[lba] < 255 {
			refcount[lba]++
		}
	}

	entryBuf := make([]byte, MapEntrySize)
	for i := uint32(0); i < a.geo.externalNlba; i++ {
		off := mapRelOff + int64(i)*MapEntrySize
		if err := scoped.Read(0, entryBuf, off); err != nil {
			return ArenaReport{}, err
		}
		bump(binary.LittleEndian.Uint32(entryBuf) & mapEntryLbaMask)
	}

	// Free-pool blocks are accounted from the runtime flog state rather
	// than re-read from the namespace: newArena already resolved each
	// slot's live half at open time, and re-deriving that from raw bytes
	// here would just duplicate decodeFlogHalf's work.
	for k := uint32(0); k < a.geo.nfree; k++ {
		bump(a.flog[k].oldMap & mapEntryLbaMask)
	}

	var dup, missing sortutil.Int64Slice
	for lba, n := range refcount {
		switch {
		case n == 0:
			missing = append(missing, int64(lba))
		case n > 1:
			dup = append(dup, int64(lba))
		}
	}
	sort.Sort(dup)
	sort.Sort(missing)

	report := ArenaReport{
		SeqFault:  a.seqFault,
		Duplicate: []int64(dup),
		Missing:   []int64(missing),
	}
	for _, lba := range dup {
		report.Faults = append(report.Faults, &ErrIllSeq{Type: ErrDupPostMapLba, Arg: lba})
	}
	for _, lba := range missing {
		report.Faults = append(report.Faults, &ErrIllSeq{Type: ErrMissingPostMapLba, Arg: lba})
	}
	return report, nil
}
