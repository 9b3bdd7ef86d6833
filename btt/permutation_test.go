// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"bytes"
	"math/rand"
	"testing"
)

// assertPermutation verifies invariant 1 of the data model for every arena
// of inst: the union of {map[0..external_nlba)} and {flog[k].old_map}, low
// 30 bits only, is a permutation of [0, internal_nlba).
func assertPermutation(t *testing.T, inst *Instance) {
	t.Helper()
	for ai, a := range inst.arenas {
		seen := make([]bool, a.geo.internalNlba)
		mark := func(v uint32, source string) {
			lba := v & mapEntryLbaMask
			if lba >= uint32(len(seen)) {
				t.Fatalf("arena %d: %s references out-of-range internal lba %d", ai, source, lba)
			}
			if seen[lba] {
				t.Fatalf("arena %d: internal lba %d referenced more than once (via %s)", ai, lba, source)
			}
			seen[lba] = true
		}

		for i := uint32(0); i < a.geo.externalNlba; i++ {
			entry, err := a.readMapEntryUnlocked(i)
			if err != nil {
				t.Fatal(err)
			}
			mark(entry, "map")
		}
		for k := range a.flog {
			mark(a.flog[k].oldMap, "flog")
		}

		for lba, ok := range seen {
			if !ok {
				t.Fatalf("arena %d: internal lba %d is unreferenced", ai, lba)
			}
		}
	}
}

// TestPermutationInvariantAfterRandomWrites exercises the spec's
// permutation property: after any prefix of a random operation sequence,
// every internal LBA is reachable from exactly one place, either a map
// entry or a lane's owned free block.
func TestPermutationInvariantAfterRandomWrites(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)
	assertPermutation(t, inst)

	rng := rand.New(rand.NewSource(1))
	nlba := inst.Nlba()
	buf := make([]byte, 512)
	for i := 0; i < 400; i++ {
		lba := uint64(rng.Int63n(int64(nlba)))
		lane := rng.Intn(inst.NLane())
		rng.Read(buf)
		if err := inst.Write(lane, lba, buf); err != nil {
			t.Fatal(err)
		}
		assertPermutation(t, inst)
	}
}

// TestPermutationInvariantAcrossSetZeroAndSetError checks that flag-setting
// operations, which rewrite a map entry's flag bits without touching the
// flog, never disturb the permutation invariant.
func TestPermutationInvariantAcrossSetZeroAndSetError(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)

	buf := bytes.Repeat([]byte{0x77}, 512)
	for _, lba := range []uint64{0, 1, 2, 3, 4} {
		if err := inst.Write(0, lba, buf); err != nil {
			t.Fatal(err)
		}
	}
	assertPermutation(t, inst)

	if err := inst.SetZero(0, 1); err != nil {
		t.Fatal(err)
	}
	assertPermutation(t, inst)

	if err := inst.SetError(0, 2); err != nil {
		t.Fatal(err)
	}
	assertPermutation(t, inst)

	// Writing over a flagged LBA allocates a fresh block and clears the
	// flag, same as any other write.
	if err := inst.Write(0, 2, buf); err != nil {
		t.Fatal(err)
	}
	assertPermutation(t, inst)
}
