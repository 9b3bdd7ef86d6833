// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nvml-btt-check opens a BTT namespace backed by a plain file and
// runs its consistency check, reporting any internal LBA that is reachable
// from more than one or from no map/flog entry.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/codezyu/nvml/btt"
)

var (
	oFile    = flag.String("f", "", "namespace file to check (required)")
	oCreate  = flag.Int64("create", 0, "if non-zero, truncate -f to this size before checking; no layout is written, so a file without one reports no arenas")
	oLbasize = flag.Uint("lbasize", 512, "external LBA size, bytes")
	oNfree   = flag.Uint("nfree", 0, "free-pool width for a freshly created namespace; 0 uses the library default")
	oMaxlane = flag.Int("maxlane", 1, "lanes to request from Init")
)

func main() {
	log.SetFlags(log.Lshortfile)
	flag.Parse()
	if *oFile == "" {
		log.Fatal("-f is required")
	}

	f, err := os.OpenFile(*oFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if *oCreate != 0 {
		if err := f.Truncate(*oCreate); err != nil {
			log.Fatal(err)
		}
	}

	ns, err := btt.NewFileNamespace(f)
	if err != nil {
		log.Fatal(err)
	}

	opts := btt.Options{NFree: uint32(*oNfree)}
	inst, err := btt.Init(ns, ns.Size(), uint32(*oLbasize), uuid.New(), *oMaxlane, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer inst.Fini()

	log.Printf("namespace %s: %d bytes, %d external LBAs, %d lanes", *oFile, ns.Size(), inst.Nlba(), inst.NLane())

	reports, err := inst.CheckReport()
	if err != nil {
		log.Fatal(err)
	}

	consistent := true
	for _, r := range reports {
		if r.SeqFault != nil {
			consistent = false
			log.Printf("arena %d: %v", r.Index, r.SeqFault)
		}
		for _, lba := range r.Duplicate {
			consistent = false
			log.Printf("arena %d: internal lba %d referenced more than once", r.Index, lba)
		}
		for _, lba := range r.Missing {
			consistent = false
			log.Printf("arena %d: internal lba %d referenced by nothing", r.Index, lba)
		}
	}
	if !consistent {
		log.Fatal("inconsistent")
	}
	log.Print("consistent")
}
