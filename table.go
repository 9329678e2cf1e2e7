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

// Package assoca implements an embeddable associative array: a growable,
// open-addressed hash table keyed by content-derived identifiers, with
// tiered power-of-two capacity, lazy tombstone deletion, periodic compaction
// ("reform"), and an embedded bloom filter that short-circuits lookups of
// absent keys.
//
// # Identifiers
//
// Callers never hand keys to the table directly. A key is first hashed into
// an ID with the table's seeded 128-bit XXH3 hash (HashBytes, HashString,
// HashValue). The low 64 bits select the initial probe position. Keys of at
// most ShortKeyMax bytes are copied verbatim into the ID so that equality is
// exact; longer keys carry the remaining hash bits instead, which makes an
// undetected collision negligible without retaining the key. The per-table
// seed is drawn from a random source at creation and kept across reforms and
// resets, which makes forced collisions impractical for an adversary who
// does not know it.
//
// # Layout
//
// A table of tier T has a capacity of 2^T slots and uses 2^T-1 as the probe
// mask. Tiers are bounded by [MinTier, MaxTier]. Slot headers (flags and ID)
// and the fixed-size payloads live in two parallel buffers indexed by slot
// number. The buffers are not sized to the tier capacity up front: they are
// grown, by doubling, only as far as a probe sequence has actually reached.
// An index beyond the allocated range is treated as an empty slot.
//
// # Probing
//
// The initial probe index is the ID's probe seed masked by the tier. From
// there the probe sequence advances either linearly or by a seeded
// pseudo-random step (see probeSeq). A lookup stops as soon as it reaches an
// empty slot. It also stops immediately when the initial slot holds a
// different identifier and does not carry the collided flag: that flag is
// set on an initial slot whenever an insertion had to probe past it, so its
// absence proves that no chain continues from there. Finally, lookups never
// probe deeper than the deepest position any insertion into the current
// region reached, which bounds work on a saturated table.
//
// # Deletion and reform
//
// Deleting marks the slot as a tombstone; the slot stays occupied so that
// probe chains through it remain intact, and insertions reuse the first
// tombstone on their chain. Tombstones are reclaimed by reform, which
// rebuilds the table into a fresh region at the smallest tier that holds the
// live elements. Reform runs after a delete once tombstones outnumber the
// truly free slots and the tier has not changed within the last T seconds,
// and unconditionally through Compact. Growth is eager: when the load factor
// exceeds two-thirds, the next insertion first rebuilds the table at the next
// tier. A rebuild never touches the source region until the new region is
// fully populated, so an allocation failure leaves the table as it was.
//
// # Bloom filter
//
// Every inserted ID is also added to the table's bloom filter, and every
// lookup consults it first. The filter is insert-only: deleted IDs remain
// "maybe present" until Reset, which only ever costs an unnecessary probe.
package assoca

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hexhive/assoca/internal/bloom"
	"github.com/hexhive/assoca/internal/entropy"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	debug = false

	// MinTier is the smallest capacity exponent of a table.
	MinTier uint8 = 2
	// MaxTier is the largest capacity exponent of a table.
	MaxTier uint8 = 30

	defaultBloomBytes = 16 << 10
)

// Table is an associative array from IDs to fixed-size byte payloads.
//
// A Table is NOT goroutine-safe. Callers sharing a table between goroutines
// must serialize access themselves.
type Table struct {
	// tier is the capacity exponent: the table addresses 2^tier slots.
	tier    uint8
	maxTier uint8
	// tierChangeTime is when tier last changed. Non-forced reforms are
	// suppressed for tier seconds afterwards.
	tierChangeTime time.Time
	// The number of live elements.
	elements uint32
	// The number of tombstones.
	ldElements  uint32
	elementSize int
	seed        uint64
	bloom       *bloom.Filter
	region      region

	hash       hashFn
	source     entropy.Source
	allocator  Allocator
	clock      clockwork.Clock
	logger     *zap.Logger
	random     bool
	bloomBytes int
}

// Stats is a snapshot of a table's header.
type Stats struct {
	Tier         uint8
	Capacity     uint32
	HighestIndex uint32
	Elements     uint32
	Tombstones   uint32
	ProbeDepth   uint32
	ElementSize  int
}

// New constructs an empty Table whose payloads are elementSize bytes. An
// elementSize of zero yields a set.
func New(elementSize int, options ...Option) (*Table, error) {
	t := &Table{
		tier:        MinTier,
		maxTier:     MaxTier,
		elementSize: elementSize,
		hash:        xxh3Hash,
		source:      entropy.Global(),
		allocator:   defaultAllocator{},
		clock:       clockwork.NewRealClock(),
		logger:      zap.NewNop(),
		bloomBytes:  defaultBloomBytes,
	}
	if elementSize < 0 {
		return nil, errors.Wrapf(ErrInitFailure, "negative element size %d", elementSize)
	}

	for _, op := range options {
		op.apply(t)
	}
	if err := validateOptions(t); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid option"), ErrInitFailure)
	}

	t.seed = t.source.Uint64()
	f, err := bloom.New(t.bloomBytes, t.source.Uint64())
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating bloom filter"), ErrInitFailure)
	}
	t.bloom = f

	r, err := newRegion(t.allocator, elementSize, 1)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "creating region"), ErrInitFailure)
	}
	t.region = r
	t.tierChangeTime = t.clock.Now()

	t.checkInvariants()
	return t, nil
}

// Close releases the table's region back to its configured allocator along
// with its bloom filter. It is unnecessary to close a table using the
// default allocator. It is invalid to use a Table after it has been closed,
// though Close itself is idempotent.
func (t *Table) Close() {
	if t.allocator != nil {
		t.region.free(t.allocator)
	}
	t.region = region{}
	t.bloom = nil
	t.elements = 0
	t.ldElements = 0
	t.allocator = nil
}

// Reset empties the table, returning it to MinTier and clearing its bloom
// filter. The seed and element size are kept, so IDs derived before the
// reset remain valid for the table.
func (t *Table) Reset() error {
	if err := t.resetRegion(); err != nil {
		return err
	}
	t.bloom.Reset()
	t.checkInvariants()
	return nil
}

// Len returns the number of live elements in the table.
func (t *Table) Len() int {
	return int(t.elements)
}

// Tier returns the current capacity exponent.
func (t *Table) Tier() uint8 {
	return t.tier
}

// ElementSize returns the payload size fixed at creation.
func (t *Table) ElementSize() int {
	return t.elementSize
}

// Stats returns a snapshot of the table header.
func (t *Table) Stats() Stats {
	return Stats{
		Tier:         t.tier,
		Capacity:     t.capacity(),
		HighestIndex: t.region.highestIndex(),
		Elements:     t.elements,
		Tombstones:   t.ldElements,
		ProbeDepth:   t.region.ddepth,
		ElementSize:  t.elementSize,
	}
}

// Contains reports whether id is present.
func (t *Table) Contains(id ID) bool {
	_, ok := t.lookup(id)
	return ok
}

// Get returns the payload stored for id. The returned slice aliases the
// table's storage: it is valid until the next Set, Delete, Compact, Reset or
// Close, and writes to it modify the stored value.
func (t *Table) Get(id ID) (value []byte, ok bool) {
	i, ok := t.lookup(id)
	if !ok {
		return nil, false
	}
	return t.region.value(i, t.elementSize), true
}

// GetCopy returns a copy of the payload stored for id.
func (t *Table) GetCopy(id ID) (value []byte, ok bool) {
	v, ok := t.Get(id)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// IndexOf returns the slot index holding id. Indexes are invalidated by any
// operation that may reform the table.
func (t *Table) IndexOf(id ID) (index uint32, ok bool) {
	return t.lookup(id)
}

// IDAt returns the identifier stored at a live slot index.
func (t *Table) IDAt(index uint32) (id ID, ok bool) {
	s := t.region.slot(index)
	if s == nil || !s.live() {
		return ID{}, false
	}
	return s.id, true
}

// Set stores value under id, overwriting the existing payload if id is
// already present. value must be exactly ElementSize bytes.
func (t *Table) Set(id ID, value []byte) error {
	if len(value) != t.elementSize {
		return errors.Wrapf(ErrElementSize, "got %d bytes, want %d", len(value), t.elementSize)
	}

	// If the element already exists, overwrite it in place. Updates never
	// grow the table and never create a second slot for the same ID.
	if i, ok := t.lookup(id); ok {
		copy(t.region.value(i, t.elementSize), value)
		return nil
	}

	if err := t.growIfNeeded(); err != nil {
		return err
	}

	k := id.encode()
	t.bloom.Insert(k[:])

	reclaimed, err := t.place(&t.region, t.mask(), id, value)
	if err != nil {
		t.logger.Warn("insert failed", zap.Stringer("id", id), zap.Error(err))
		return err
	}
	if reclaimed {
		t.ldElements--
	}
	t.elements++
	t.checkInvariants()
	return nil
}

// SetValue stores the in-memory bytes of v under id. The table's element
// size must equal the size of T.
func SetValue[T Scalar](t *Table, id ID, v T) error {
	return t.Set(id, scalarBytes(&v))
}

// GetValue returns the payload stored for id interpreted as a T. ok is false
// if id is absent or the element size differs from the size of T.
func GetValue[T Scalar](t *Table, id ID) (v T, ok bool) {
	b, ok := t.Get(id)
	if !ok || len(b) != len(scalarBytes(&v)) {
		return v, false
	}
	copy(scalarBytes(&v), b)
	return v, true
}

// Delete removes id from the table, returning ErrNotFound if it is absent.
// The slot becomes a tombstone and a non-forced reform is attempted; an
// error from that reform is returned, but the deletion itself has already
// taken effect.
func (t *Table) Delete(id ID) error {
	i, ok := t.lookup(id)
	if !ok {
		return errors.Wrapf(ErrNotFound, "delete %s", id)
	}

	t.region.slots[i].flags |= flagLazyDeleted
	t.elements--
	t.ldElements++
	if debug {
		t.logger.Debug("delete", zap.Uint32("index", i), zap.Uint32("elements", t.elements))
	}

	if err := t.reform(false); err != nil {
		return errors.Wrapf(err, "reform after deleting %s", id)
	}
	t.checkInvariants()
	return nil
}

// Compact forces a reform regardless of tombstone ratio or cooldown,
// reclaiming every tombstone and shrinking the tier to fit the live
// elements.
func (t *Table) Compact() error {
	if err := t.reform(true); err != nil {
		return err
	}
	t.checkInvariants()
	return nil
}

// All calls yield sequentially for each live identifier and payload in the
// table. If yield returns false, iteration stops. The table can be mutated
// during iteration, though there is no guarantee that the mutations will be
// visible to the iteration. The payload slices passed to yield follow the
// same aliasing rules as Get.
func (t *Table) All(yield func(id ID, value []byte) bool) {
	// Snapshot the slots and payload so that iteration remains valid if the
	// table is reformed during iteration.
	slots := t.region.slots
	payload := t.region.payload
	size := t.elementSize

	for i := range slots {
		if !slots[i].live() {
			continue
		}
		off := i * size
		if !yield(slots[i].id, payload[off:off+size:off+size]) {
			return
		}
	}
}

func (t *Table) capacity() uint32 {
	return uint32(1) << t.tier
}

func (t *Table) mask() uint32 {
	return t.capacity() - 1
}

func (t *Table) makeProbeSeq(id ID, mask uint32) probeSeq {
	return makeProbeSeq(id, mask, t.random, t.seed)
}

// lookup resolves id to the index of its live slot.
func (t *Table) lookup(id ID) (uint32, bool) {
	if t.elements == 0 {
		return 0, false
	}
	k := id.encode()
	if !t.bloom.Contains(k[:]) {
		return 0, false
	}

	seq := t.makeProbeSeq(id, t.mask())
	if debug {
		t.logger.Debug("lookup", zap.Stringer("id", id), zap.Stringer("seq", seq))
	}

	for ; ; seq = seq.next() {
		s := t.region.slot(seq.offset)
		// Unoccupied, or beyond the allocated range: the chain ends here.
		if s == nil || s.flags&flagOccupied == 0 {
			return 0, false
		}
		if s.id == id {
			// A tombstone carrying our ID means the element was deleted. Any
			// reinsertion would have claimed this slot or an earlier one.
			if s.flags&flagLazyDeleted != 0 {
				return 0, false
			}
			return seq.offset, true
		}
		// Nothing was ever displaced past the initial slot.
		if seq.depth == 0 && s.flags&flagCollided == 0 {
			return 0, false
		}
		if seq.depth >= t.region.ddepth {
			return 0, false
		}
	}
}

// place inserts an identifier known not to be live in r. It claims the first
// tombstone or empty slot along the probe chain, marking the initial slot as
// collided if it has to move past it. reclaimed reports whether a tombstone
// was reused.
func (t *Table) place(r *region, mask uint32, id ID, value []byte) (reclaimed bool, err error) {
	seq := t.makeProbeSeq(id, mask)

	for ; ; seq = seq.next() {
		if seq.exhausted() {
			panic(fmt.Sprintf("probe sequence exhausted without a vacant slot: %s\n%s", seq, t.debugString()))
		}
		// ensure may reallocate the region; slot pointers are re-derived on
		// every iteration.
		if err := r.ensure(t.allocator, t.elementSize, seq.offset, mask+1); err != nil {
			return false, err
		}

		s := &r.slots[seq.offset]
		if s.vacant() {
			reclaimed = s.flags&flagLazyDeleted != 0
			// Reclaiming a tombstone keeps its collided flag: chains that
			// started here still continue past it.
			s.flags = (s.flags &^ flagLazyDeleted) | flagOccupied
			s.id = id
			copy(r.value(seq.offset, t.elementSize), value)
			if seq.depth > r.ddepth {
				r.ddepth = seq.depth
			}
			if debug {
				t.logger.Debug("place", zap.Stringer("id", id), zap.Uint32("index", seq.offset),
					zap.Uint32("depth", seq.depth), zap.Bool("reclaimed", reclaimed))
			}
			return reclaimed, nil
		}

		if seq.depth == 0 {
			s.flags |= flagCollided
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "tier=%d  elements=%d  tombstones=%d  highest=%d  ddepth=%d\n",
		t.tier, t.elements, t.ldElements, t.region.highestIndex(), t.region.ddepth)
	for i := range t.region.slots {
		s := &t.region.slots[i]
		switch {
		case s.flags&flagOccupied == 0:
			fmt.Fprintf(&buf, "  %4d: empty [flags=%03b]\n", i, s.flags)
		case s.flags&flagLazyDeleted != 0:
			fmt.Fprintf(&buf, "  %4d: deleted %s [flags=%03b]\n", i, s.id, s.flags)
		default:
			fmt.Fprintf(&buf, "  %4d: %s [flags=%03b]\n", i, s.id, s.flags)
		}
	}
	return buf.String()
}
