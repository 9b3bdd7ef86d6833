// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestMemNamespaceReadWrite(t *testing.T) {
	const max = 1 << 16
	var b [max]byte
	rng := rand.New(rand.NewSource(42))
	for sz := 0; sz < max; sz += 2053 {
		for i := range b[:sz] {
			b[i] = byte(rng.Int())
		}

		f := NewMemNamespaceSize(max)
		if err := f.Write(0, b[:sz], 0); err != nil {
			t.Fatal(err)
		}

		got := make([]byte, sz)
		if err := f.Read(0, got, 0); err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(got, b[:sz]) {
			t.Fatal("content differs")
		}
	}
}

func TestMemNamespaceReadPastWritten(t *testing.T) {
	f := NewMemNamespaceSize(4096)
	if err := f.Write(0, []byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 8)
	if err := f.Read(0, got, 0); err != nil {
		t.Fatal(err)
	}

	if g, e := got, []byte{1, 2, 3, 0, 0, 0, 0, 0}; !bytes.Equal(g, e) {
		t.Fatal(g, e)
	}
}

func TestMemNamespaceGrows(t *testing.T) {
	f := NewMemNamespace()
	if g, e := f.Size(), int64(0); g != e {
		t.Fatal(g, e)
	}

	if err := f.Write(0, make([]byte, 16), 100); err != nil {
		t.Fatal(err)
	}

	if g, e := f.Size(), int64(116); g != e {
		t.Fatal(g, e)
	}
}

func TestMemNamespaceMapSync(t *testing.T) {
	f := NewMemNamespaceSize(4096)
	if err := f.Write(0, []byte{1, 2, 3, 4}, 0); err != nil {
		t.Fatal(err)
	}

	window, err := f.Map(0, 0, 4)
	if err != nil {
		t.Fatal(err)
	}

	for i := range window {
		window[i] = byte(9 - i)
	}

	if err := f.Sync(0, window); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 4)
	if err := f.Read(0, got, 0); err != nil {
		t.Fatal(err)
	}

	if g, e := got, []byte{9, 8, 7, 6}; !bytes.Equal(g, e) {
		t.Fatal(g, e)
	}
}

func TestMemNamespaceSyncWithoutMapFails(t *testing.T) {
	f := NewMemNamespaceSize(4096)
	if err := f.Sync(0, make([]byte, 4)); err == nil {
		t.Fatal("unexpected success")
	}
}

func TestWindowNamespace(t *testing.T) {
	f := NewMemNamespaceSize(4096)
	w := newWindowNamespace(f, 100, 16)

	if g, e := w.Size(), int64(16); g != e {
		t.Fatal(g, e)
	}

	if err := w.Write(0, []byte{1, 2, 3}, 0); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 3)
	if err := f.Read(0, got, 100); err != nil {
		t.Fatal(err)
	}

	if g, e := got, []byte{1, 2, 3}; !bytes.Equal(g, e) {
		t.Fatal(g, e)
	}
}
