// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"bytes"
	"testing"
)

func TestCheckUnlaidOutIsConsistent(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)
	ok, err := inst.Check()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("an untouched instance must be consistent")
	}
}

func TestCheckConsistentAfterWrites(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)

	for i := uint64(0); i < 200; i++ {
		buf := bytes.Repeat([]byte{byte(i)}, 512)
		if err := inst.Write(0, i, buf); err != nil {
			t.Fatal(err)
		}
	}

	ok, err := inst.Check()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("instance must be consistent after straightforward sequential writes")
	}
}

func TestCheckDetectsDuplicateInternalLba(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)
	if err := inst.Write(0, 0, bytes.Repeat([]byte{1}, 512)); err != nil {
		t.Fatal(err)
	}

	a := inst.arenas[0]
	entry, err := a.readMapEntryUnlocked(0)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt map entry 1 to point at the same internal LBA as entry 0,
	// something no legitimate sequence of Writes can produce. Entry 1
	// still holds its fresh identity value (1|ZERO), so overwriting it
	// also orphans internal LBA 1: one corruption yields one duplicate
	// and one missing LBA, not just a duplicate.
	if err := a.mapUnlock(1, entry); err != nil {
		t.Fatal(err)
	}

	ok, err := inst.Check()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Check must detect the duplicated internal LBA")
	}

	reports, err := inst.CheckReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one arena report, got %d", len(reports))
	}
	r := reports[0]
	if len(r.Duplicate) != 1 || r.Duplicate[0] != int64(entry&mapEntryLbaMask) {
		t.Fatalf("expected internal lba %d reported as duplicate, got %v", entry&mapEntryLbaMask, r.Duplicate)
	}
	if len(r.Missing) != 1 || r.Missing[0] != 1 {
		t.Fatalf("expected internal lba 1 reported as missing (orphaned by the overwrite), got %v", r.Missing)
	}
	if len(r.Faults) != 2 {
		t.Fatalf("expected one ErrDupPostMapLba and one ErrMissingPostMapLba fault, got %v", r.Faults)
	}
	if r.Faults[0].Type != ErrDupPostMapLba || r.Faults[1].Type != ErrMissingPostMapLba {
		t.Fatalf("unexpected fault types: %v", r.Faults)
	}
}

func TestCheckDetectsMissingInternalLba(t *testing.T) {
	inst, _ := newTestInstance(t, ArenaMin, 512, 4)
	if err := inst.Write(0, 0, bytes.Repeat([]byte{1}, 512)); err != nil {
		t.Fatal(err)
	}

	a := inst.arenas[0]
	entry, err := a.readMapEntryUnlocked(0)
	if err != nil {
		t.Fatal(err)
	}

	// Point external LBA 0 outside the arena's internal LBA range, so
	// entry's real internal LBA becomes unreferenced by anything and the
	// corrupted value itself isn't double-counted against some other
	// entry that legitimately still owns it.
	outOfRange := a.geo.internalNlba + 7
	if err := a.mapUnlock(0, outOfRange|mapEntryZero); err != nil {
		t.Fatal(err)
	}

	ok, err := inst.Check()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Check must detect the missing internal LBA")
	}

	reports, err := inst.CheckReport()
	if err != nil {
		t.Fatal(err)
	}
	r := reports[0]
	if len(r.Missing) != 1 || r.Missing[0] != int64(entry&mapEntryLbaMask) {
		t.Fatalf("expected internal lba %d reported as missing, got %v", entry&mapEntryLbaMask, r.Missing)
	}
	if len(r.Faults) != 1 || r.Faults[0].Type != ErrMissingPostMapLba {
		t.Fatalf("expected one ErrMissingPostMapLba fault, got %v", r.Faults)
	}
}
