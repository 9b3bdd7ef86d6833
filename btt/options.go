// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

// Options are passed to Init to amend the default behavior of a fresh or
// reopened instance. The compatibility promise is the same as for struct
// types in the Go standard library: new fields may be added, which is
// backward compatible as long as client code sets fields by name.
type Options struct {
	// NFree sets the number of free-pool slots per arena, and thus the
	// ceiling on the instance's lane count, for a namespace that has no layout yet. Zero
	// means DefaultNfree. Ignored once a namespace is laid out: each
	// arena's on-media Nfree field wins on reopen.
	NFree uint32

	checked bool
}

func (o *Options) check() error {
	if o.checked {
		return nil
	}
	if o.NFree == 0 {
		o.NFree = DefaultNfree
	}
	o.checked = true
	return nil
}
