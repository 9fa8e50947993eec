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

// Package pacer generalizes three AgentThread termination policies into
// one capability: a single worker type parameterized by a Pacer { done(state)
// -> bool }, with three implementations. The worker owns the loop; pacers
// own the phase logic. This replaces a Java-style inheritance hierarchy
// (AgentThread -> {TimeThread, TimeThreadWithBackground, CycleThread})
// with composition.
package pacer

import "github.com/perfharness/loadharness/runmodel"

// Pacer decides how many mixes a thread drives and when it should stop.
// AgentThread owns the per-mix cycle-time/think-time arithmetic (identical
// across all three variants); Pacer only answers the variant-specific
// termination question.
type Pacer interface {
	// NumMixes is 1 for a foreground-only thread, 2 when a background mix
	// is configured: two independent selectors then run in parallel.
	NumMixes() int
	// Done reports whether the thread should terminate given the current
	// master-adjusted wall clock (ms) and the cycle counts so far per mix.
	Done(nowMillis int64, cycleCount [2]int64) bool
}

// TimePacer implements the single-foreground-mix, wall-time-bounded
// variant.
type TimePacer struct {
	EndMillis int64
}

func NewTimePacer(ri *runmodel.RunInfo) *TimePacer {
	return &TimePacer{EndMillis: ri.EndTime()}
}

func (p *TimePacer) NumMixes() int { return 1 }

func (p *TimePacer) Done(now int64, _ [2]int64) bool {
	return now >= p.EndMillis
}

// TimePacerWithBackground is TimePacer but drives two independent mixes
// within the same thread.
type TimePacerWithBackground struct {
	EndMillis int64
}

func NewTimePacerWithBackground(ri *runmodel.RunInfo) *TimePacerWithBackground {
	return &TimePacerWithBackground{EndMillis: ri.EndTime()}
}

func (p *TimePacerWithBackground) NumMixes() int { return 2 }

func (p *TimePacerWithBackground) Done(now int64, _ [2]int64) bool {
	return now >= p.EndMillis
}

// CyclePacer implements the fixed-iteration-count, single-foreground-mix
// variant.
type CyclePacer struct {
	TargetCycles int64
}

func NewCyclePacer(targetCycles int64) *CyclePacer {
	return &CyclePacer{TargetCycles: targetCycles}
}

func (p *CyclePacer) NumMixes() int { return 1 }

func (p *CyclePacer) Done(_ int64, cycleCount [2]int64) bool {
	return cycleCount[0] >= p.TargetCycles
}

// Select picks the pacer implementation: a background mix always wins with
// TimePacerWithBackground; otherwise a time-bounded run gets TimePacer and
// a cycle-bounded run gets CyclePacer.
func Select(dc *runmodel.DriverConfig, ri *runmodel.RunInfo) Pacer {
	if dc.Mix[1] != nil {
		return NewTimePacerWithBackground(ri)
	}
	if dc.RunControl == runmodel.TIME {
		return NewTimePacer(ri)
	}
	return NewCyclePacer(dc.Cycles)
}
