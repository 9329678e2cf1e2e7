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
	"github.com/cockroachdb/errors"
	"github.com/hexhive/assoca/internal/entropy"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Option provides an interface to do work on Table while it is being created.
type Option interface {
	apply(t *Table)
}

type optionFunc func(t *Table)

func (f optionFunc) apply(t *Table) { f(t) }

// Hash128 is the 128-bit result of hashing a key.
type Hash128 struct {
	Hi, Lo uint64
}

type hashFn func(key []byte, seed uint64) Hash128

// WithHash is an option to specify the hash function used to derive
// identifiers. The default is 128-bit XXH3 seeded with the table seed.
func WithHash(hash func(key []byte, seed uint64) Hash128) Option {
	return optionFunc(func(t *Table) {
		t.hash = hash
	})
}

// Source produces the random values table and bloom filter seeds are drawn
// from.
type Source = entropy.Source

// WithSource is an option to specify the random source the table seed and
// the bloom filter seed are drawn from. The default is entropy.Global().
func WithSource(src Source) Option {
	return optionFunc(func(t *Table) {
		t.source = src
	})
}

// WithSeed is a shorthand for WithSource(entropy.NewSource(seed)). Two
// tables created with the same seed hash keys identically.
func WithSeed(seed uint64) Option {
	return WithSource(entropy.NewSource(seed))
}

// WithRandomProbing selects the seeded pseudo-random probe step instead of
// the default linear step.
func WithRandomProbing() Option {
	return optionFunc(func(t *Table) {
		t.random = true
	})
}

// WithBloomBytes sets the size of the embedded bloom filter in bytes.
func WithBloomBytes(n int) Option {
	return optionFunc(func(t *Table) {
		t.bloomBytes = n
	})
}

// WithMaxTier lowers the highest tier the table may grow to. Values are
// clamped to [MinTier, MaxTier].
func WithMaxTier(tier uint8) Option {
	return optionFunc(func(t *Table) {
		t.maxTier = min(max(tier, MinTier), MaxTier)
	})
}

// WithClock sets the clock used for the tier-change cooldown.
func WithClock(clock clockwork.Clock) Option {
	return optionFunc(func(t *Table) {
		t.clock = clock
	})
}

// WithLogger sets the logger the table reports growth and reform on. The
// default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(t *Table) {
		t.logger = logger
	})
}

// Allocator specifies an interface for allocating and releasing memory used
// by a Table. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory.
//
// An allocator signals exhaustion by returning an error; the table reports
// it wrapped in ErrOutOfMemory. If the allocator is manually managing memory
// then Table.Close must be called in order to ensure FreeSlots and
// FreePayload are called.
type Allocator interface {
	// AllocSlots should return a zeroed slice equivalent to make([]Slot, n).
	AllocSlots(n int) ([]Slot, error)

	// AllocPayload should return a zeroed slice equivalent to make([]byte, n).
	AllocPayload(n int) ([]byte, error)

	// FreeSlots can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot)

	// FreePayload can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocPayload.
	FreePayload(v []byte)
}

type defaultAllocator struct{}

func (defaultAllocator) AllocSlots(n int) ([]Slot, error) {
	return make([]Slot, n), nil
}

func (defaultAllocator) AllocPayload(n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (defaultAllocator) FreeSlots(v []Slot) {
}

func (defaultAllocator) FreePayload(v []byte) {
}

// WithAllocator is an option for specify the Allocator to use for a Table.
func WithAllocator(allocator Allocator) Option {
	return optionFunc(func(t *Table) {
		t.allocator = allocator
	})
}

func validateOptions(t *Table) error {
	switch {
	case t.hash == nil:
		return errors.New("nil hash function")
	case t.source == nil:
		return errors.New("nil random source")
	case t.allocator == nil:
		return errors.New("nil allocator")
	case t.clock == nil:
		return errors.New("nil clock")
	case t.logger == nil:
		return errors.New("nil logger")
	}
	return nil
}
