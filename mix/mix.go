// Copyright 2024 Fortio Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mix implements the operation chooser ("Mix.Selector" in spec
// §4.5): a stateful sampler that picks the next operation index given a
// mix specification, either a flat row distribution (FlatMix) or a Markov
// transition matrix (MatrixMix). The selector owns no clock; it is driven
// entirely by the caller (agentthread).
package mix

import (
	"fmt"

	"github.com/perfharness/loadharness/rng"
)

// Selector chooses the next operation index given a source of randomness.
// Implementations maintain whatever state (e.g. previous index) the mix
// discipline needs between calls.
type Selector interface {
	// Select returns the next operation index.
	Select(r *rng.Random) int
	// Previous returns the index last returned by Select, or -1 before the
	// first call.
	Previous() int
}

// sample draws an index from a row of nonnegative weights using r, by
// scaling a uniform draw over the sum of the row and walking the
// cumulative distribution. Returns len(row)-1 if rounding leaves a
// remainder (keeps the function total even if the row doesn't sum to
// exactly 1).
func sample(row []float64, r *rng.Random) int {
	if len(row) == 0 {
		return 0
	}
	var total float64
	for _, w := range row {
		total += w
	}
	if total <= 0 {
		return 0
	}
	target := r.Float64() * total
	var cum float64
	for i, w := range row {
		cum += w
		if target < cum {
			return i
		}
	}
	return len(row) - 1
}

// FlatMix is an independent Bernoulli/categorical sampler over a fixed row
// vector: each draw is independent of the previously selected operation.
type FlatMix struct {
	Row  []float64
	prev int
}

// NewFlatMix builds a FlatMix from a row of (possibly unnormalized)
// nonnegative weights.
func NewFlatMix(row []float64) *FlatMix {
	return &FlatMix{Row: row, prev: -1}
}

func (f *FlatMix) Select(r *rng.Random) int {
	f.prev = sample(f.Row, r)
	return f.prev
}

func (f *FlatMix) Previous() int { return f.prev }

// MatrixMix is a Markov-chain sampler: Select(prev) draws from
// Matrix[prev][:]. The first call (no previous selection) draws from
// Matrix[0], treating row 0 as the implicit start-state distribution.
type MatrixMix struct {
	Matrix [][]float64
	prev   int
}

// NewMatrixMix builds a MatrixMix from a square transition matrix.
func NewMatrixMix(matrix [][]float64) (*MatrixMix, error) {
	n := len(matrix)
	if n == 0 {
		return nil, fmt.Errorf("mix: empty matrix")
	}
	for i, row := range matrix {
		if len(row) != n {
			return nil, fmt.Errorf("mix: matrix not square, row %d has %d entries, want %d", i, len(row), n)
		}
	}
	return &MatrixMix{Matrix: matrix, prev: -1}, nil
}

func (m *MatrixMix) Select(r *rng.Random) int {
	row := m.Matrix[0]
	if m.prev >= 0 {
		row = m.Matrix[m.prev]
	}
	m.prev = sample(row, r)
	return m.prev
}

func (m *MatrixMix) Previous() int { return m.prev }
