// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// On-media layout: info block encode/decode, geometry computation, and the
// read/write-layout operations.

package btt

import (
	"encoding/binary"

	"github.com/cznic/mathutil"
	"github.com/google/uuid"
)

// flogEntrySize is the fixed size, in bytes, of one flog record
// {pre_map_lba, old_map, new_map, seq}, each a uint32.
const flogEntrySize = 16

// infoBlock is the host-order, in-memory image of one on-media info block.
type infoBlock struct {
	ParentUUID      uuid.UUID
	Flags           uint32
	Major           uint16
	Minor           uint16
	ExternalLbasize uint32
	ExternalNlba    uint32
	InternalLbasize uint32
	InternalNlba    uint32
	Nfree           uint32
	Infosize        uint32
	Nextoff         uint64
	Dataoff         uint64
	Mapoff          uint64
	Flogoff         uint64
	Infooff         uint64
	Checksum        uint64
}

// encode serializes b into a fresh infoBlockSize-byte little-endian buffer,
// computing the checksum last over the buffer with the checksum field
// zeroed.
func (b *infoBlock) encode() []byte {
	buf := make([]byte, infoBlockSize)
	copy(buf[0:16], infoSig[:])
	copy(buf[16:32], b.ParentUUID[:])
	le := binary.LittleEndian
	le.PutUint32(buf[32:36], b.Flags)
	le.PutUint16(buf[36:38], b.Major)
	le.PutUint16(buf[38:40], b.Minor)
	le.PutUint32(buf[40:44], b.ExternalLbasize)
	le.PutUint32(buf[44:48], b.ExternalNlba)
	le.PutUint32(buf[48:52], b.InternalLbasize)
	le.PutUint32(buf[52:56], b.InternalNlba)
	le.PutUint32(buf[56:60], b.Nfree)
	le.PutUint32(buf[60:64], b.Infosize)
	le.PutUint64(buf[64:72], b.Nextoff)
	le.PutUint64(buf[72:80], b.Dataoff)
	le.PutUint64(buf[80:88], b.Mapoff)
	le.PutUint64(buf[88:96], b.Flogoff)
	le.PutUint64(buf[96:104], b.Infooff)
	// buf[104:112] (checksum) and buf[112:128] (reserved) stay zero.
	sum := fletcher64(buf)
	le.PutUint64(buf[104:112], sum)
	return buf
}

// decodeInfoBlock parses buf, which must be infoBlockSize bytes, validating
// signature and checksum. readLayout treats a validation failure of the
// leading info block as an unlaid-out namespace rather than an error; a
// failure of any later arena's info block is returned as an error.
func decodeInfoBlock(buf []byte) (*infoBlock, error) {
	if len(buf) != infoBlockSize {
		return nil, &ErrInvalidArg{"decodeInfoBlock: short buffer", len(buf)}
	}

	for i, c := range infoSig {
		if buf[i] != c {
			return nil, &ErrIllSeq{Type: ErrBadInfoBlock, Arg: "signature mismatch"}
		}
	}

	check := make([]byte, infoBlockSize)
	copy(check, buf)
	le := binary.LittleEndian
	le.PutUint64(check[104:112], 0)
	if fletcher64(check) != le.Uint64(buf[104:112]) {
		return nil, &ErrIllSeq{Type: ErrBadInfoBlock, Arg: "checksum mismatch"}
	}

	b := &infoBlock{}
	copy(b.ParentUUID[:], buf[16:32])
	b.Flags = le.Uint32(buf[32:36])
	b.Major = le.Uint16(buf[36:38])
	b.Minor = le.Uint16(buf[38:40])
	b.ExternalLbasize = le.Uint32(buf[40:44])
	b.ExternalNlba = le.Uint32(buf[44:48])
	b.InternalLbasize = le.Uint32(buf[48:52])
	b.InternalNlba = le.Uint32(buf[52:56])
	b.Nfree = le.Uint32(buf[56:60])
	b.Infosize = le.Uint32(buf[60:64])
	b.Nextoff = le.Uint64(buf[64:72])
	b.Dataoff = le.Uint64(buf[72:80])
	b.Mapoff = le.Uint64(buf[80:88])
	b.Flogoff = le.Uint64(buf[88:96])
	b.Infooff = le.Uint64(buf[96:104])
	b.Checksum = le.Uint64(buf[104:112])
	return b, nil
}

// arenaGeometry is the pure, deterministic layout computed for one arena,
// before anything is written to or read from a namespace. Offsets are
// namespace-absolute, per the data model's "runtime state stores them as
// namespace-absolute to simplify I/O".
type arenaGeometry struct {
	base            int64 // absolute offset where this arena begins
	size            int64 // arena's byte extent
	externalLbasize uint32
	internalLbasize uint32
	internalNlba    uint32
	externalNlba    uint32
	nfree           uint32
	dataoff         int64
	mapoff          int64
	flogoff         int64
	infooff         int64 // trailing info block
	nextoff         int64 // absolute offset of the next arena, 0 if last
}

// roundUp rounds n up to the next multiple of align, which must be a power
// of two.
func roundUp(n, align int64) int64 { return (n + align - 1) &^ (align - 1) }

// computeGeometry derives the deterministic arena layout for a namespace of
// rawsize bytes with the given external LBA size and free-pool width. It
// performs no I/O: the same geometry is what writeLayout would produce, and
// what readLayout falls back to computing when a namespace has no valid
// layout yet, reporting it as unlaid-out rather than failing.
func computeGeometry(rawsize int64, lbasize uint32, nfree uint32) ([]arenaGeometry, error) {
	if lbasize < MinLba {
		lbasize = MinLba
	}
	internalLbasize := uint32(roundUp(int64(lbasize), InternalLbaAlignment))

	narena := rawsize / ArenaMax
	rem := rawsize % ArenaMax
	if rem >= ArenaMin {
		narena++
	}
	if narena == 0 {
		return nil, &ErrInvalidArg{"computeGeometry: rawsize too small for one arena", rawsize}
	}

	geoms := make([]arenaGeometry, 0, narena)
	base := int64(0)
	for i := int64(0); i < narena; i++ {
		size := int64(ArenaMax)
		if i == narena-1 && rem >= ArenaMin && rem != 0 {
			size = rem
		}

		flogSize := roundUp(int64(nfree)*roundUp(2*flogEntrySize, FlogPairAlign), Alignment)
		arenaDataSize := size - 2*infoBlockSize - flogSize
		denom := int64(internalLbasize) + MapEntrySize
		if arenaDataSize <= Alignment || denom <= 0 {
			return nil, &ErrInvalidArg{"computeGeometry: arena too small for requested nfree/lbasize", size}
		}
		internalNlba := (arenaDataSize - Alignment) / denom
		if internalNlba <= int64(nfree) {
			return nil, &ErrInvalidArg{"computeGeometry: nfree leaves no external LBAs", nfree}
		}
		externalNlba := internalNlba - int64(nfree)

		mapSize := roundUp(externalNlba*MapEntrySize, Alignment)
		infooff := base + size - infoBlockSize
		flogoff := infooff - flogSize
		mapoff := flogoff - mapSize
		dataoff := base + infoBlockSize

		next := int64(0)
		if i != narena-1 {
			next = base + size
		}

		geoms = append(geoms, arenaGeometry{
			base:            base,
			size:            size,
			externalLbasize: lbasize,
			internalLbasize: internalLbasize,
			internalNlba:    uint32(internalNlba),
			externalNlba:    uint32(externalNlba),
			nfree:           nfree,
			dataoff:         dataoff,
			mapoff:          mapoff,
			flogoff:         flogoff,
			infooff:         infooff,
			nextoff:         next,
		})

		base += size
	}

	return geoms, nil
}

// layoutResult is what readLayout hands back to Init: either a laid-out
// namespace's arena geometries and minimum nfree, or the geometry a future
// writeLayout would produce plus laidout=false.
type layoutResult struct {
	laidout bool
	geoms   []arenaGeometry
	nfree   uint32 // minimum nfree across arenas
}

// readLayout reads back whatever layout ns already carries. nfree is only
// used as the free-pool width for a namespace that turns out to be
// unlaid-out; an existing layout's own per-arena Nfree field always wins.
func readLayout(ns Namespace, rawsize int64, lbasize uint32, nfree uint32) (*layoutResult, error) {
	var geoms []arenaGeometry
	minNfree := uint32(0)
	off := int64(0)
	for {
		buf := make([]byte, infoBlockSize)
		if err := ns.Read(0, buf, off); err != nil {
			if off == 0 {
				return computeUnlaidOutLayout(rawsize, lbasize, nfree)
			}
			return nil, err
		}

		info, err := decodeInfoBlock(buf)
		if err != nil || info.Major < 1 {
			if off == 0 {
				return computeUnlaidOutLayout(rawsize, lbasize, nfree)
			}
			return nil, &ErrIllSeq{Type: ErrBadInfoBlock, Off: off, Arg: "invalid info block mid-namespace"}
		}

		g := arenaGeometry{
			base:            off,
			size:            int64(info.Nextoff) - off,
			externalLbasize: info.ExternalLbasize,
			internalLbasize: info.InternalLbasize,
			internalNlba:    info.InternalNlba,
			externalNlba:    info.ExternalNlba,
			nfree:           info.Nfree,
			dataoff:         off + int64(info.Dataoff),
			mapoff:          off + int64(info.Mapoff),
			flogoff:         off + int64(info.Flogoff),
			infooff:         off + int64(info.Infooff),
			nextoff:         int64(info.Nextoff),
		}
		if info.Nextoff == 0 {
			g.size = rawsize - off
		}
		geoms = append(geoms, g)

		if minNfree == 0 || info.Nfree < minNfree {
			minNfree = info.Nfree
		}

		if info.Nextoff == 0 {
			break
		}
		off = int64(info.Nextoff)
	}

	return &layoutResult{laidout: true, geoms: geoms, nfree: minNfree}, nil
}

func computeUnlaidOutLayout(rawsize int64, lbasize uint32, nfree uint32) (*layoutResult, error) {
	geoms, err := computeGeometry(rawsize, lbasize, nfree)
	if err != nil {
		return nil, err
	}
	return &layoutResult{laidout: false, geoms: geoms, nfree: nfree}, nil
}

// patchInfoFlags ORs flags into both of an arena's on-media info block
// copies, re-checksumming each. Used to persist ErrorMask once a flog
// sequence collision is discovered.
func patchInfoFlags(ns Namespace, g arenaGeometry, flags uint32) error {
	for _, off := range []int64{g.base, g.infooff} {
		buf := make([]byte, infoBlockSize)
		if err := ns.Read(0, buf, off); err != nil {
			return err
		}
		info, err := decodeInfoBlock(buf)
		if err != nil {
			return err
		}
		info.Flags |= flags
		if err := ns.Write(0, info.encode(), off); err != nil {
			return err
		}
	}
	return nil
}

// writeLayout writes, per arena: the identity map, the initial flog pairs,
// then both info blocks with the checksum computed last. Failure partway
// through leaves the namespace unlaid-out; there is no rollback of a
// partial write, so a retried writeLayout simply overwrites from the top.
func writeLayout(ns Namespace, geoms []arenaGeometry, parentUUID uuid.UUID) error {
	hp, _ := ns.(holePuncher)
	for _, g := range geoms {
		if hp != nil {
			// A prior, aborted writeLayout may have left stale map or
			// flog content from a different geometry (e.g. a different
			// nfree). Release it before writing the fresh identity map
			// and flog, instead of relying on every new write to fully
			// overwrite whatever was there.
			if err := hp.PunchHole(g.mapoff, g.infooff-g.mapoff); err != nil {
				return err
			}
		}
		if err := writeIdentityMap(ns, g); err != nil {
			return err
		}
		if err := writeInitialFlog(ns, g); err != nil {
			return err
		}
	}

	for _, g := range geoms {
		info := &infoBlock{
			ParentUUID:      parentUUID,
			Flags:           0,
			Major:           MajorVersion,
			Minor:           MinorVersion,
			ExternalLbasize: g.externalLbasize,
			ExternalNlba:    g.externalNlba,
			InternalLbasize: g.internalLbasize,
			InternalNlba:    g.internalNlba,
			Nfree:           g.nfree,
			Infosize:        infoBlockSize,
			Nextoff:         uint64(g.nextoff),
			Dataoff:         uint64(g.dataoff - g.base),
			Mapoff:          uint64(g.mapoff - g.base),
			Flogoff:         uint64(g.flogoff - g.base),
			Infooff:         uint64(g.infooff - g.base),
		}
		buf := info.encode()
		if err := ns.Write(0, buf, g.base); err != nil {
			return err
		}
		if err := ns.Write(0, buf, g.infooff); err != nil {
			return err
		}
	}

	return nil
}

// writeIdentityMap fills an arena's map region with map[i] = i | ZERO using
// mapped windows, the bulk-initialization use case Map/Sync exists for.
func writeIdentityMap(ns Namespace, g arenaGeometry) error {
	mapSize := int64(g.externalNlba) * MapEntrySize
	const chunk = 1 << 20
	for off := int64(0); off < mapSize; off += chunk {
		n := int(mathutil.MinInt64(chunk, mapSize-off))
		window, err := ns.Map(0, g.mapoff+off, n)
		if err != nil {
			return err
		}
		if len(window) < n {
			n = len(window)
		}
		first := uint32(off / MapEntrySize)
		for i := 0; i+4 <= n; i += 4 {
			lba := first + uint32(i/MapEntrySize)
			binary.LittleEndian.PutUint32(window[i:i+4], lba|mapEntryZero)
		}
		if err := ns.Sync(0, window); err != nil {
			return err
		}
	}
	return nil
}

// writeInitialFlog writes each slot's first half as the live entry
// old=new=(external_nlba+k)|ZERO, seq=1, and zeroes the second half.
func writeInitialFlog(ns Namespace, g arenaGeometry) error {
	slotSize := roundUp(2*flogEntrySize, FlogPairAlign)
	zero := make([]byte, slotSize)
	for k := uint32(0); k < g.nfree; k++ {
		slotOff := g.flogoff + int64(k)*slotSize
		buf := make([]byte, slotSize)
		free := g.externalNlba + k
		le := binary.LittleEndian
		le.PutUint32(buf[0:4], 0) // pre_map_lba unused for the free-pool init entry
		le.PutUint32(buf[4:8], free|mapEntryZero)
		le.PutUint32(buf[8:12], free|mapEntryZero)
		le.PutUint32(buf[12:16], 1)
		if err := ns.Write(0, buf, slotOff); err != nil {
			return err
		}
		if err := ns.Write(0, zero, slotOff+flogEntrySize); err != nil {
			return err
		}
	}
	return nil
}
