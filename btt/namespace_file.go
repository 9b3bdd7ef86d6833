// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// An os.File backed Namespace. Write is durable by the same contract
// os.File.WriteAt plus Sync gives; Map/Sync are backed by a real mmap'd
// window so the "direct-access window" of the namespace adapter is an
// actual mapped-memory region, not a buffer copy.

package btt

import (
	"os"
	"sync"
	"unsafe"

	"github.com/cznic/fileutil"
	"github.com/cznic/mathutil"
	"golang.org/x/sys/unix"
)

var _ Namespace = &FileNamespace{}

// holePuncher is implemented by namespaces that can release backing storage
// for a byte range without changing the namespace's reported Size. Used by
// writeLayout when a previous partial attempt leaves map/flog regions that
// must be reformatted before retrying.
type holePuncher interface {
	PunchHole(off, size int64) error
}

var _ holePuncher = &FileNamespace{}

// FileNamespace is an os.File backed Namespace. The caller owns opening and
// eventually closing the file; FileNamespace only reads, writes, maps and
// syncs the range [0, Size()).
type FileNamespace struct {
	file *os.File
	size int64

	mapMu    sync.Mutex
	mappings map[uintptr][]byte // window first-byte address -> full page-aligned mmap region
}

// NewFileNamespace returns a Namespace over f. f's current size (as reported
// by os.Stat) becomes the namespace's fixed size for its lifetime; callers
// that need a larger namespace must Truncate f before calling this.
func NewFileNamespace(f *os.File) (*FileNamespace, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return &FileNamespace{file: f, size: fi.Size(), mappings: map[uintptr][]byte{}}, nil
}

// Close closes the underlying file.
func (f *FileNamespace) Close() error { return f.file.Close() }

// Size implements Namespace.
func (f *FileNamespace) Size() int64 { return f.size }

// Read implements Namespace.
func (f *FileNamespace) Read(lane int, b []byte, off int64) error {
	_, err := f.file.ReadAt(b, off)
	return err
}

// Write implements Namespace. Durability is achieved by an explicit Sync
// after the write; os.File.WriteAt alone only guarantees the OS page cache
// has the data, not that it has reached the device.
func (f *FileNamespace) Write(lane int, b []byte, off int64) error {
	if _, err := f.file.WriteAt(b, off); err != nil {
		return err
	}

	return f.file.Sync()
}

// Map implements Namespace, returning a real mmap'd window.
func (f *FileNamespace) Map(lane int, off int64, n int) ([]byte, error) {
	if off < 0 {
		return nil, &ErrInvalidArg{"FileNamespace.Map: negative off", off}
	}

	avail := f.size - off
	if int64(n) > avail {
		n = int(mathutil.MaxInt64(avail, 0))
	}
	if n == 0 {
		return nil, nil
	}

	pageOff := off &^ int64(os.Getpagesize()-1)
	pageDelta := int(off - pageOff)
	b, err := unix.Mmap(int(f.file.Fd()), pageOff, n+pageDelta, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	window := b[pageDelta : pageDelta+n]
	f.mapMu.Lock()
	f.mappings[uintptr(unsafe.Pointer(&window[0]))] = b
	f.mapMu.Unlock()
	return window, nil
}

// Sync implements Namespace: flushes and unmaps a window returned by Map.
func (f *FileNamespace) Sync(lane int, window []byte) error {
	if len(window) == 0 {
		return nil
	}

	key := uintptr(unsafe.Pointer(&window[0]))
	f.mapMu.Lock()
	region, ok := f.mappings[key]
	delete(f.mappings, key)
	f.mapMu.Unlock()
	if !ok {
		return &ErrInvalidArg{"FileNamespace.Sync: window not returned by Map", nil}
	}

	if err := unix.Msync(region, unix.MS_SYNC); err != nil {
		return err
	}

	return unix.Munmap(region)
}

// PunchHole implements holePuncher.
func (f *FileNamespace) PunchHole(off, size int64) error {
	return fileutil.PunchHole(f.file, off, size)
}
