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

import "github.com/cockroachdb/errors"

// Each slot carries a flag byte with the following layout:
//
//	0 0 0 0 0 c l o
//	          | | \- occupied
//	          | \--- lazily deleted (tombstone)
//	          \----- collided: an insertion probed past this slot because
//	                 it was this slot's initial probe position
//
// A tombstone keeps the occupied bit so that probe chains running through it
// are not cut short.
const (
	flagOccupied    uint8 = 1 << 0
	flagLazyDeleted uint8 = 1 << 1
	flagCollided    uint8 = 1 << 2
)

// Slot is the fixed-size header of a table element: flags plus the
// identifier. Payload bytes live in a parallel buffer.
type Slot struct {
	flags uint8
	id    ID
}

func (s *Slot) live() bool {
	return s.flags&(flagOccupied|flagLazyDeleted) == flagOccupied
}

func (s *Slot) vacant() bool {
	return s.flags&flagOccupied == 0 || s.flags&flagLazyDeleted != 0
}

// region is the storage of a table: slots and payload are indexed by the
// same slot number and always cover the same range [0, highestIndex]. The
// range is grown lazily, only as far as probe sequences have reached, and
// never beyond the tier capacity it was sized for.
type region struct {
	slots   []Slot
	payload []byte
	// ddepth is the deepest probe depth at which an insertion into this
	// region placed an element. Lookups never need to probe deeper.
	ddepth uint32
}

func newRegion(a Allocator, elementSize int, n uint32) (region, error) {
	var r region
	if err := r.resize(a, elementSize, n); err != nil {
		return region{}, err
	}
	return r, nil
}

// highestIndex returns the highest slot index backed by memory, or zero for
// a freed region.
func (r *region) highestIndex() uint32 {
	if len(r.slots) == 0 {
		return 0
	}
	return uint32(len(r.slots)) - 1
}

// slot returns the slot at index i, or nil if i is beyond the allocated
// range. The returned pointer is invalidated by ensure.
func (r *region) slot(i uint32) *Slot {
	if uint64(i) >= uint64(len(r.slots)) {
		return nil
	}
	return &r.slots[i]
}

func (r *region) value(i uint32, elementSize int) []byte {
	off := int(i) * elementSize
	return r.payload[off : off+elementSize : off+elementSize]
}

// ensure grows the region so that index is backed by memory. The allocation
// at least doubles and is clamped to capacity. Newly exposed slots are zero.
func (r *region) ensure(a Allocator, elementSize int, index, capacity uint32) error {
	if uint64(index) < uint64(len(r.slots)) {
		return nil
	}
	n := max(uint64(len(r.slots))*2, uint64(index)+1)
	n = min(n, uint64(capacity))
	return r.resize(a, elementSize, uint32(n))
}

func (r *region) resize(a Allocator, elementSize int, n uint32) error {
	slots, err := a.AllocSlots(int(n))
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "allocating %d slots", n), ErrOutOfMemory)
	}
	payload, err := a.AllocPayload(int(n) * elementSize)
	if err != nil {
		a.FreeSlots(slots)
		return errors.Mark(errors.Wrapf(err, "allocating %d payload bytes", int(n)*elementSize), ErrOutOfMemory)
	}

	copied := copy(slots, r.slots)
	clear(slots[copied:])
	copied = copy(payload, r.payload)
	clear(payload[copied:])

	r.free(a)
	r.slots, r.payload = slots, payload
	return nil
}

func (r *region) free(a Allocator) {
	if r.slots != nil {
		a.FreeSlots(r.slots)
	}
	if r.payload != nil {
		a.FreePayload(r.payload)
	}
	r.slots, r.payload = nil, nil
}
