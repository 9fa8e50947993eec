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

// Package timing provides the monotonic, master-offset-adjusted millisecond
// clock every Agent thread uses for scheduling. All time
// arithmetic in the engine goes through this clock rather than raw
// time.Now(), so sleeping to an invokeTime and comparing against
// BenchStartTime use the same notion of "now" Master used when it computed
// BenchStartTime.
package timing

import (
	"sync/atomic"
	"time"
)

// Timer is a monotonic millisecond clock adjustable by a one-shot offset
// sampled against Master.currentTimeMillis() at agent startup. Re-sampling
// during a run is not performed; offset drift within one run is assumed
// bounded.
type Timer struct {
	epoch    time.Time
	offsetMs atomic.Int64
}

// NewTimer creates a Timer with a zero offset, referenced to the instant of
// construction.
func NewTimer() *Timer {
	return &Timer{epoch: time.Now()}
}

// SetOffset records the delta between a master-clock sample (in ms) and this
// timer's local-monotonic now, so that Now() subsequently returns
// master-adjusted time.
func (t *Timer) SetOffset(masterNowMillis int64) {
	localNowMillis := time.Since(t.epoch).Milliseconds()
	t.offsetMs.Store(masterNowMillis - localNowMillis)
}

// Offset returns the currently recorded master-clock offset in ms.
func (t *Timer) Offset() int64 {
	return t.offsetMs.Load()
}

// Now returns local-monotonic-elapsed + offset, in master-adjusted ms.
func (t *Timer) Now() int64 {
	return time.Since(t.epoch).Milliseconds() + t.offsetMs.Load()
}

// SleepUntil blocks until Now() reaches targetMillis, or until stop fires,
// whichever comes first. Returns true if it returned because of stop.
func (t *Timer) SleepUntil(targetMillis int64, stop <-chan struct{}) (interrupted bool) {
	for {
		remaining := targetMillis - t.Now()
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(time.Duration(remaining) * time.Millisecond)
		select {
		case <-stop:
			timer.Stop()
			return true
		case <-timer.C:
			// Loop again: Now() re-checked in case of spurious early wake.
		}
	}
}
