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

// Package rng provides the per-thread pseudorandom source used for cycle
// draws and mix selection. Each AgentThread owns exactly one Random; there
// is no cross-thread sharing, so the underlying generator needs no locking
// (unlike the process-global math/rand used for periodic.getJitter in the
// teacher).
package rng

import (
	"math/rand"
)

// Random is a per-thread, unlocked pseudorandom source.
type Random struct {
	r *rand.Rand
}

// New creates a Random seeded with seed. Two Randoms created with the same
// seed draw identical sequences.
func New(seed int64) *Random {
	return &Random{r: rand.New(rand.NewSource(seed))} //nolint:gosec // per-thread load generation, not a security context
}

// Float64 returns a pseudorandom number in [0.0,1.0).
func (rr *Random) Float64() float64 {
	return rr.r.Float64()
}

// Int63n returns a pseudorandom number in [0,n).
func (rr *Random) Int63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rr.r.Int63n(n)
}
