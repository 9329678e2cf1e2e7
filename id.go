// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package assoca

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// ShortKeyMax is the longest key whose bytes are stored verbatim in an ID.
// Such keys compare exactly; longer keys compare by their folded hash.
const ShortKeyMax = 16

// IDKind tags which representation an ID's comparison field holds.
type IDKind uint8

const (
	// IDShortKey identifiers hold the raw key bytes.
	IDShortKey IDKind = iota + 1
	// IDFoldedHash identifiers hold the high hash bits folded with the low
	// hash bits and the key length.
	IDFoldedHash
)

func (k IDKind) String() string {
	switch k {
	case IDShortKey:
		return "short"
	case IDFoldedHash:
		return "folded"
	default:
		return "invalid"
	}
}

// ID identifies a key within a Table. It is derived from the key once, by
// one of the Table hash methods, and is compared field by field thereafter;
// the key itself is never retained. IDs are only meaningful to the table
// (or a table sharing its seed) that produced them.
type ID struct {
	// probe is the low 64 bits of the key hash. The initial probe index is
	// probe masked by the current tier.
	probe uint64
	cmp   [ShortKeyMax]byte
	n     uint64
	kind  IDKind
}

// idBytes is the size of the ID encoding fed to the bloom filter.
const idBytes = 8 + ShortKeyMax + 8 + 1

func makeID(key []byte, h Hash128) ID {
	id := ID{probe: h.Lo, n: uint64(len(key))}
	if len(key) <= ShortKeyMax {
		id.kind = IDShortKey
		copy(id.cmp[:], key)
		return id
	}
	id.kind = IDFoldedHash
	binary.LittleEndian.PutUint64(id.cmp[:8], h.Hi)
	binary.LittleEndian.PutUint64(id.cmp[8:], h.Hi^bits.RotateLeft64(h.Lo, 32)^id.n)
	return id
}

// Kind returns the representation of the comparison field.
func (id ID) Kind() IDKind {
	return id.kind
}

// Len returns the length of the key the ID was derived from.
func (id ID) Len() int {
	return int(id.n)
}

// IsZero reports whether id is the zero ID, which no hash method returns.
func (id ID) IsZero() bool {
	return id.kind == 0
}

func (id ID) probeIndex(mask uint32) uint32 {
	return uint32(id.probe) & mask
}

func (id ID) encode() [idBytes]byte {
	var b [idBytes]byte
	binary.LittleEndian.PutUint64(b[0:8], id.probe)
	copy(b[8:8+ShortKeyMax], id.cmp[:])
	binary.LittleEndian.PutUint64(b[8+ShortKeyMax:], id.n)
	b[idBytes-1] = byte(id.kind)
	return b
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%016x/%x/%d", id.kind, id.probe, id.cmp, id.n)
}

func xxh3Hash(key []byte, seed uint64) Hash128 {
	h := xxh3.Hash128Seed(key, seed)
	return Hash128{Hi: h.Hi, Lo: h.Lo}
}

// HashBytes derives the ID of key using the table seed.
func (t *Table) HashBytes(key []byte) ID {
	return makeID(key, t.hash(key, t.seed))
}

// HashString derives the ID of s. It is equivalent to HashBytes([]byte(s))
// but does not copy s.
func (t *Table) HashString(s string) ID {
	return t.HashBytes(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// Scalar is the set of fixed-size types HashValue, SetValue and GetValue
// accept. Their in-memory representation is used as the key or payload.
type Scalar interface {
	~bool | ~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64 | ~complex64 | ~complex128
}

// scalarBytes returns the memory of *v as a byte slice.
func scalarBytes[T Scalar](v *T) []byte {
	return unsafe.Slice((*byte)(noescape(unsafe.Pointer(v))), unsafe.Sizeof(*v))
}

// HashValue derives the ID of the in-memory bytes of v.
func HashValue[T Scalar](t *Table, v T) ID {
	return t.HashBytes(scalarBytes(&v))
}

// noescape hides a pointer from escape analysis.  noescape is
// the identity function but escape analysis doesn't think the
// output depends on the input.  noescape is inlined and currently
// compiles down to zero instructions.
// USE CAREFULLY!
//
//go:nosplit
//go:nocheckptr
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
