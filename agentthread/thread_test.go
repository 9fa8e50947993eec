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

package agentthread

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/perfharness/loadharness/cycle"
	"github.com/perfharness/loadharness/drivercontext"
	"github.com/perfharness/loadharness/mix"
	"github.com/perfharness/loadharness/pacer"
	"github.com/perfharness/loadharness/runmodel"
	"github.com/perfharness/loadharness/timing"
)

// fakeCoordinator is a single-thread stand-in for Agent's barrier logic,
// used to exercise AgentThread in isolation.
type fakeCoordinator struct {
	thread0   bool
	preRunErr error
	aborted   atomic.Bool
	abortErr  error
}

func (f *fakeCoordinator) WaitTimeSet(_ <-chan struct{})           {}
func (f *fakeCoordinator) IsThreadZero() bool                      { return f.thread0 }
func (f *fakeCoordinator) RunPreRun() error                        { return f.preRunErr }
func (f *fakeCoordinator) WaitPreRun(_ <-chan struct{})             {}
func (f *fakeCoordinator) CountDownPostRun()                        {}
func (f *fakeCoordinator) WaitPostRunThenRun() error                { return nil }
func (f *fakeCoordinator) Abort(err error) {
	f.aborted.Store(true)
	f.abortErr = err
}

func newTestThread(t *testing.T, cycles int64, opErr error) (*AgentThread, *fakeCoordinator) {
	t.Helper()
	timer := timing.NewTimer()
	ri := &runmodel.RunInfo{
		BenchStartTime: timer.Now() + 20,
		RampUp:         0,
		SteadyState:    time.Hour,
		RampDown:       0,
	}
	dc := &runmodel.DriverConfig{
		Operations: []runmodel.Operation{
			{
				Name:   "op1",
				Timing: runmodel.AUTO,
				Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 1}},
				Run: func(ctx runmodel.OperationContext) error {
					// An AUTO operation's transport records invoke and respond times.
					dctx := drivercontext.FromContext(ctx.(context.Context))
					dctx.RecordTime()
					dctx.RecordTime()
					return opErr
				},
			},
		},
		InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 1}}},
		RunControl:   runmodel.CYCLES,
		Cycles:       cycles,
	}
	coord := &fakeCoordinator{thread0: true}
	selectors := [2]mix.Selector{mix.NewFlatMix([]float64{1})}
	pc := pacer.Select(dc, ri)
	thread := New(0, "testdriver", dc, ri, coord, timer, 1, selectors, pc)
	return thread, coord
}

func TestAgentThreadRunsCyclesAndEnds(t *testing.T) {
	thread, coord := newTestThread(t, 5, nil)
	fatal := thread.Run()
	if fatal != nil {
		t.Fatalf("unexpected fatal error: %v", fatal)
	}
	if thread.State() != Ended {
		t.Fatalf("expected Ended, got %v", thread.State())
	}
	if coord.aborted.Load() {
		t.Fatalf("unexpected abort")
	}
	tm := thread.Metrics()
	if got := tm.Operations[0].Success.Hdata; sum(got) == 0 {
		t.Fatalf("expected at least one recorded success sample")
	}
}

func TestAgentThreadFatalOperationAborts(t *testing.T) {
	thread, coord := newTestThread(t, 100, &FatalError{})
	fatal := thread.Run()
	if fatal == nil {
		t.Fatalf("expected fatal error")
	}
	if !coord.aborted.Load() {
		t.Fatalf("expected Abort to have been called")
	}
}

func TestStateWatcherWaitUnblocksOnSet(t *testing.T) {
	w := NewStateWatcher()
	done := make(chan State, 1)
	go func() {
		done <- w.Wait(Running, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	w.Set(Initializing)
	w.Set(Running)
	select {
	case s := <-done:
		if s != Running {
			t.Fatalf("expected Running, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock")
	}
}

func sum(h []int32) int64 {
	var total int64
	for _, v := range h {
		total += int64(v)
	}
	return total
}
