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
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// overloaded reports whether n elements exceed the two-thirds load factor of
// a tier holding capacity slots.
func overloaded(n, capacity uint32) bool {
	return uint64(n)*3 > uint64(capacity)*2
}

// tierFor returns the smallest tier in [MinTier, maxTier] whose load factor
// accommodates n elements. This is never below the tier of the next power of
// two above n.
func tierFor(n uint32, maxTier uint8) uint8 {
	tier := MinTier
	for tier < maxTier && overloaded(n, uint32(1)<<tier) {
		tier++
	}
	return tier
}

// growIfNeeded moves the table to the next tier before an insertion when the
// load factor has been exceeded. Growth is eager: the table is rebuilt at the
// new tier, which also drops every tombstone.
func (t *Table) growIfNeeded() error {
	if !overloaded(t.elements, t.capacity()) {
		return nil
	}
	if t.tier >= t.maxTier {
		return errors.Wrapf(ErrIntegerOverflow, "%d elements at maximum tier %d", t.elements, t.tier)
	}
	return t.rebuild(t.tier + 1)
}

// reform compacts the table. An empty table is reset to MinTier. Otherwise,
// unless forced, reform only proceeds once tombstones outnumber the truly
// free slots and the tier has been stable for at least tier seconds.
func (t *Table) reform(forced bool) error {
	if t.elements == 0 {
		if t.tier == MinTier && t.ldElements == 0 {
			return nil
		}
		return t.resetRegion()
	}
	if t.tier <= MinTier {
		return nil
	}

	if !forced {
		free := t.capacity() - t.elements - t.ldElements
		if t.ldElements < free {
			return nil
		}
		if cooldown := time.Duration(t.tier) * time.Second; t.clock.Since(t.tierChangeTime) < cooldown {
			if debug {
				t.logger.Debug("reform suppressed by cooldown", zap.Uint8("tier", t.tier))
			}
			return nil
		}
	}

	// Reform never raises the tier, even for a table loaded right up to its
	// growth threshold; only insertion grows.
	return t.rebuild(min(tierFor(t.elements, t.maxTier), t.tier))
}

// rebuild re-inserts every live element into a fresh region at tier and
// swaps it in. The current region is left untouched until the new one is
// fully populated; on failure the partially built region is released and
// the table is unchanged.
func (t *Table) rebuild(tier uint8) error {
	mask := uint32(1)<<tier - 1
	nr, err := newRegion(t.allocator, t.elementSize, 1)
	if err != nil {
		return errors.Wrapf(err, "rebuilding at tier %d", tier)
	}
	committed := false
	defer func() {
		if !committed {
			nr.free(t.allocator)
		}
	}()

	for i := range t.region.slots {
		s := &t.region.slots[i]
		if !s.live() {
			continue
		}
		if _, err := t.place(&nr, mask, s.id, t.region.value(uint32(i), t.elementSize)); err != nil {
			t.logger.Warn("rebuild failed",
				zap.Uint8("from", t.tier), zap.Uint8("to", tier), zap.Error(err))
			return errors.Wrapf(err, "rebuilding at tier %d", tier)
		}
	}

	old := t.region
	t.region = nr
	committed = true
	old.free(t.allocator)

	t.logger.Debug("rebuilt",
		zap.Uint8("from", t.tier),
		zap.Uint8("to", tier),
		zap.Uint32("elements", t.elements),
		zap.Uint32("tombstones", t.ldElements),
		zap.Uint32("highest-index", t.region.highestIndex()),
		zap.Uint32("ddepth", t.region.ddepth))

	t.ldElements = 0
	t.setTier(tier)
	return nil
}

// resetRegion replaces the region with an empty one at MinTier.
func (t *Table) resetRegion() error {
	nr, err := newRegion(t.allocator, t.elementSize, 1)
	if err != nil {
		return errors.Wrap(err, "resetting region")
	}
	old := t.region
	t.region = nr
	old.free(t.allocator)

	t.logger.Debug("reset", zap.Uint8("from", t.tier), zap.Uint32("tombstones", t.ldElements))

	t.elements = 0
	t.ldElements = 0
	t.setTier(MinTier)
	return nil
}

func (t *Table) setTier(tier uint8) {
	if tier == t.tier {
		return
	}
	t.tier = tier
	t.tierChangeTime = t.clock.Now()
}
