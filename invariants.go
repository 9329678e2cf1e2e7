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
	"fmt"

	"github.com/cockroachdb/errors"
)

func (t *Table) checkInvariants() {
	if invariants {
		if err := t.verify(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, t.debugString()))
		}
	}
}

// verify walks the whole region and cross-checks it against the header.
func (t *Table) verify() error {
	if t.tier < MinTier || t.tier > t.maxTier {
		return errors.Newf("tier %d outside [%d, %d]", t.tier, MinTier, t.maxTier)
	}
	allocated := uint64(len(t.region.slots))
	if allocated == 0 || allocated > uint64(t.capacity()) {
		return errors.Newf("%d slots allocated for capacity %d", allocated, t.capacity())
	}
	if uint64(len(t.region.payload)) != allocated*uint64(t.elementSize) {
		return errors.Newf("%d payload bytes for %d slots of %d bytes",
			len(t.region.payload), allocated, t.elementSize)
	}
	if uint64(t.elements)+uint64(t.ldElements) > allocated {
		return errors.Newf("%d elements and %d tombstones exceed %d allocated slots",
			t.elements, t.ldElements, allocated)
	}

	var live, dead uint32
	for i := range t.region.slots {
		s := &t.region.slots[i]
		switch {
		case s.flags&flagOccupied == 0:
			if s.flags != 0 {
				return errors.Newf("slot %d: unoccupied with flags %03b", i, s.flags)
			}
		case s.flags&flagLazyDeleted != 0:
			dead++
		default:
			live++
			// The first live match along the chain must be this slot, which
			// also rules out duplicate identifiers.
			j, ok := t.lookup(s.id)
			if !ok {
				return errors.Newf("slot %d: %s not found", i, s.id)
			}
			if j != uint32(i) {
				return errors.Newf("slot %d: %s resolves to slot %d", i, s.id, j)
			}
		}
	}

	if live != t.elements {
		return errors.Newf("found %d live slots, but element count is %d", live, t.elements)
	}
	if dead != t.ldElements {
		return errors.Newf("found %d tombstones, but tombstone count is %d", dead, t.ldElements)
	}
	return nil
}
