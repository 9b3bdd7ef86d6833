// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The read tracking table: per-lane publication of the internal block a
// reader currently holds, so a writer can wait for readers to drain a
// block before reassigning it, without readers ever blocking on writers.

package btt

import "runtime"

// rttPublish stores entry (a plain internal LBA, already stripped of the
// ZERO/ERROR flags by the caller) into the lane's rtt slot. The atomic
// store is the publication point the write path's free-block wait
// synchronizes against.
func (a *arena) rttPublish(lane int, entry uint32) {
	a.rtt[lane].Store(entry)
}

// rttClear idles the lane's rtt slot.
func (a *arena) rttClear(lane int) {
	a.rtt[lane].Store(emptyRttSlot)
}

// rttLoad returns the lane's current rtt value.
func (a *arena) rttLoad(lane int) uint32 {
	return a.rtt[lane].Load()
}

// waitFreeBlockClear spins until no rtt slot references free, the block a
// writer is about to overwrite. The wait is bounded by the duration of a
// single outstanding read on that specific block; Gosched yields between
// polls rather than hot-spinning.
func (a *arena) waitFreeBlockClear(free uint32) {
	for {
		busy := false
		for i := range a.rtt {
			if a.rtt[i].Load() == free {
				busy = true
				break
			}
		}
		if !busy {
			return
		}
		runtime.Gosched()
	}
}
