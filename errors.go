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

var (
	// ErrOutOfMemory is returned when the Allocator cannot provide a slot or
	// payload buffer. The operation is aborted and the table is left in its
	// last consistent state.
	ErrOutOfMemory = errors.New("assoca: out of memory")

	// ErrNotFound is returned by Delete when the identifier is not present.
	ErrNotFound = errors.New("assoca: element not found")

	// ErrIntegerOverflow is returned when an insertion would require a tier
	// above the table's maximum tier.
	ErrIntegerOverflow = errors.New("assoca: tier overflow")

	// ErrInitFailure is returned by New when the table's region or bloom
	// filter could not be created.
	ErrInitFailure = errors.New("assoca: table initialization failed")

	// ErrElementSize is returned by Set when the value is not exactly the
	// table's element size.
	ErrElementSize = errors.New("assoca: value does not match element size")
)
