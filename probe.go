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

	"github.com/cespare/xxhash/v2"
)

// probeSeq maintains the state for a probe sequence. The initial offset is
// the identifier's probe seed masked by the tier. Successive offsets are
// produced by one of two steps:
//
//	linear: p(i+1) := p(i) + 1                    (mod mask+1)
//	random: p(i+1) := xxhash(seed, p(i) + 1)      (mod mask+1)
//
// The linear sequence visits every slot exactly once in mask+1 steps. The
// random sequence carries no such guarantee, so after mask+1 random steps it
// degrades to the linear step; every slot is therefore reached within
// 2*(mask+1) steps whichever step is selected. Lookup and insertion share the
// same sequence, which is what keeps an inserted identifier findable.
type probeSeq struct {
	mask   uint32
	offset uint32
	depth  uint32
	seed   uint64
	random bool
}

func makeProbeSeq(id ID, mask uint32, random bool, seed uint64) probeSeq {
	return probeSeq{
		mask:   mask,
		offset: id.probeIndex(mask),
		seed:   seed,
		random: random,
	}
}

func (s probeSeq) next() probeSeq {
	s.depth++
	if s.random && uint64(s.depth) <= uint64(s.mask)+1 {
		s.offset = randomStep(s.offset, s.seed) & s.mask
	} else {
		s.offset = (s.offset + 1) & s.mask
	}
	return s
}

// exhausted reports whether the sequence has advanced far enough that every
// slot has been visited at least once.
func (s probeSeq) exhausted() bool {
	return uint64(s.depth) > 2*(uint64(s.mask)+1)
}

func (s probeSeq) String() string {
	return fmt.Sprintf("mask=%d offset=%d depth=%d random=%t", s.mask, s.offset, s.depth, s.random)
}

func randomStep(offset uint32, seed uint64) uint32 {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	binary.LittleEndian.PutUint32(buf[8:], offset+1)
	return uint32(xxhash.Sum64(buf[:]))
}
