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

// Package bloom provides the seeded, insert-only bloom filter a table uses
// to reject lookups of absent identifiers.
package bloom

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"
)

// K is the number of bits set per inserted element.
const K = 3

// ErrBadSize is returned by New for a non-positive filter size.
var ErrBadSize = errors.New("bloom: filter size must be positive")

// Filter is a fixed-size bloom filter. Bit positions are derived by double
// hashing, h1 + i*h2 (mod m), over a 128-bit XXH3 hash seeded per filter.
// Elements cannot be removed, so Contains has no false negatives.
type Filter struct {
	bits *bitset.BitSet
	m    uint64
	seed uint64
}

// New returns an empty filter of the given size in bytes.
func New(bytes int, seed uint64) (*Filter, error) {
	if bytes <= 0 {
		return nil, errors.Wrapf(ErrBadSize, "%d bytes", bytes)
	}
	m := uint64(bytes) * 8
	return &Filter{
		bits: bitset.New(uint(m)),
		m:    m,
		seed: seed,
	}, nil
}

func (f *Filter) hashes(b []byte) (h1, h2 uint64) {
	h := xxh3.Hash128Seed(b, f.seed)
	// A zero stride would set the same bit K times.
	return h.Lo, h.Hi | 1
}

// Insert adds b to the filter.
func (f *Filter) Insert(b []byte) {
	h1, h2 := f.hashes(b)
	for i := uint64(0); i < K; i++ {
		f.bits.Set(uint((h1 + i*h2) % f.m))
	}
}

// Contains reports whether b may have been inserted. A false result is
// definitive.
func (f *Filter) Contains(b []byte) bool {
	h1, h2 := f.hashes(b)
	for i := uint64(0); i < K; i++ {
		if !f.bits.Test(uint((h1 + i*h2) % f.m)) {
			return false
		}
	}
	return true
}

// Reset clears every bit.
func (f *Filter) Reset() {
	f.bits.ClearAll()
}

// Bytes returns the size of the filter in bytes.
func (f *Filter) Bytes() int {
	return int(f.m / 8)
}

// FillRatio returns the fraction of bits set.
func (f *Filter) FillRatio() float64 {
	return float64(f.bits.Count()) / float64(f.m)
}
