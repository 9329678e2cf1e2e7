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

// Package entropy provides the random sources tables draw their hash seeds
// from.
package entropy

import (
	crand "crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/exp/rand"
)

// Source produces uniformly distributed 64-bit values.
type Source interface {
	Uint64() uint64
}

var (
	global     rand.LockedSource
	globalOnce sync.Once
)

// Global returns the process-wide source. It is seeded from system entropy
// the first time it is requested and is safe for concurrent use.
func Global() Source {
	globalOnce.Do(func() {
		global.Seed(Seed64())
	})
	return &global
}

// NewSource returns a deterministic source seeded with seed. It is not safe
// for concurrent use.
func NewSource(seed uint64) Source {
	src := &rand.PCGSource{}
	src.Seed(seed)
	return src
}

// Seed64 reads 64 bits of system entropy, falling back to the wall clock if
// the system source is unavailable.
func Seed64() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
