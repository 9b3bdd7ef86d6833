// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simns wraps a btt.Namespace to simulate a power failure partway
// through a sequence of writes, for crash-recovery property tests. An
// in-process fleet of short-lived Instances over a MemNamespace calls for a
// cheaper fault model than killing a child process, so this package drops
// writes by call count instead of by OS signal.
package simns

import (
	"sync"

	"github.com/codezyu/nvml/btt"
)

// FaultNamespace wraps a btt.Namespace, counting every Write call and
// optionally discarding any call at or past an armed cutoff. Read, Map and
// Sync always pass through untouched: a crash loses in-flight writes, not
// data already durable.
type FaultNamespace struct {
	btt.Namespace

	mu     sync.Mutex
	writes int
	cutoff int // -1 means unlimited
}

// Wrap returns a FaultNamespace over ns with no cutoff armed.
func Wrap(ns btt.Namespace) *FaultNamespace {
	return &FaultNamespace{Namespace: ns, cutoff: -1}
}

// Write counts itself and, once the armed cutoff is reached, silently
// succeeds without touching the underlying namespace: the caller believes
// the write landed, matching a write whose completion raced a power loss
// and lost.
func (f *FaultNamespace) Write(lane int, b []byte, off int64) error {
	f.mu.Lock()
	n := f.writes
	f.writes++
	cutoff := f.cutoff
	f.mu.Unlock()

	if cutoff >= 0 && n >= cutoff {
		return nil
	}
	return f.Namespace.Write(lane, b, off)
}

// Writes reports how many Write calls have been observed so far, so a test
// can choose a cutoff relative to a known operation's call count.
func (f *FaultNamespace) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// Arm sets the cutoff: the (cutoff+1)-th Write call onward is dropped. It
// also resets the call counter, so tests can Arm a fresh instance per
// crash point without reconstructing the wrapper.
func (f *FaultNamespace) Arm(cutoff int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = cutoff
	f.writes = 0
}

// Disarm removes any cutoff; all subsequent writes pass through.
func (f *FaultNamespace) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoff = -1
}
