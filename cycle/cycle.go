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

// Package cycle implements the per-operation delay draws used to pace a
// driver thread: cycle-time (start to next start) and think-time (end to
// next start), each carrying a distribution to draw a nonnegative millisecond
// delay from. Modeled on periodic.getJitter's use of math/rand in the
// teacher, generalized from a single +/-10% jitter to a full distribution
// family.
package cycle

import (
	"fmt"
	"math"

	"github.com/perfharness/loadharness/rng"
)

// Type selects whether the delay paces from the previous operation's start
// or its end.
type Type int

const (
	// CycleTime paces from operation start to next operation start.
	CycleTime Type = iota
	// ThinkTime paces from operation end to next operation start.
	ThinkTime
)

func (t Type) String() string {
	if t == ThinkTime {
		return "thinktime"
	}
	return "cycletime"
}

// Distribution draws a nonnegative millisecond delay from a source of
// randomness. Implementations must never return a negative value.
type Distribution interface {
	Draw(r *rng.Random) int64
	String() string
}

// Cycle is one operation's pacing descriptor: a Type (cycle vs think time)
// and a Distribution to draw the delay from.
type Cycle struct {
	Type         Type
	Distribution Distribution
}

// Draw draws the next delay in milliseconds, never negative.
func (c Cycle) Draw(r *rng.Random) int64 {
	if c.Distribution == nil {
		return 0
	}
	d := c.Distribution.Draw(r)
	if d < 0 {
		return 0
	}
	return d
}

func (c Cycle) String() string {
	dist := "nil"
	if c.Distribution != nil {
		dist = c.Distribution.String()
	}
	return fmt.Sprintf("%s(%s)", c.Type, dist)
}

// Fixed always returns the same delay.
type Fixed struct {
	DelayMillis int64
}

func (f Fixed) Draw(_ *rng.Random) int64 { return f.DelayMillis }
func (f Fixed) String() string           { return fmt.Sprintf("fixed %dms", f.DelayMillis) }

// Uniform draws uniformly in [LowMillis, HighMillis].
type Uniform struct {
	LowMillis  int64
	HighMillis int64
}

func (u Uniform) Draw(r *rng.Random) int64 {
	if u.HighMillis <= u.LowMillis {
		return u.LowMillis
	}
	span := u.HighMillis - u.LowMillis
	return u.LowMillis + r.Int63n(span+1)
}

func (u Uniform) String() string {
	return fmt.Sprintf("uniform[%d,%d]ms", u.LowMillis, u.HighMillis)
}

// NegExp draws from a negative-exponential (memoryless) distribution with
// the given mean, truncated at MaxMillis to avoid unbounded tails (spec
// §4.6: "NegExp must truncate at max to avoid unbounded tails").
type NegExp struct {
	MeanMillis float64
	MaxMillis  int64
}

func (n NegExp) Draw(r *rng.Random) int64 {
	if n.MeanMillis <= 0 {
		return 0
	}
	u := r.Float64()
	// avoid log(0)
	for u == 0 {
		u = r.Float64()
	}
	d := int64(-n.MeanMillis * math.Log(u))
	if n.MaxMillis > 0 && d > n.MaxMillis {
		d = n.MaxMillis
	}
	if d < 0 {
		return 0
	}
	return d
}

func (n NegExp) String() string {
	return fmt.Sprintf("negexp(mean=%.1fms,max=%dms)", n.MeanMillis, n.MaxMillis)
}
