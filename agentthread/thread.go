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

// Package agentthread implements the per-virtual-user worker: select an
// operation, compute its invoke time from the cycle descriptor, sleep to
// it, invoke, validate the timing, classify the result and decide whether
// to keep going. One instance drives either one (foreground-only) or two
// (foreground+background) independent mix selectors in the same
// goroutine, per the pacer.Pacer variant chosen by pacer.Select. Built on
// periodic.runOne's invoke-then-sleep-to-target loop and periodic.Aborter's
// stop-channel pattern, replacing a Java-style
// TimeThread/TimeThreadWithBackground/CycleThread hierarchy with one
// worker parameterized by Pacer.
package agentthread

import (
	"context"
	"errors"

	"fortio.org/log"

	"github.com/perfharness/loadharness/cycle"
	"github.com/perfharness/loadharness/drivercontext"
	"github.com/perfharness/loadharness/metrics"
	"github.com/perfharness/loadharness/mix"
	"github.com/perfharness/loadharness/pacer"
	"github.com/perfharness/loadharness/rng"
	"github.com/perfharness/loadharness/runmodel"
	"github.com/perfharness/loadharness/timing"
)

// Coordinator is the cross-thread barrier surface an Agent provides to each
// AgentThread (its timeSetLatch/preRunLatch/postRunLatch), kept separate
// from AgentThread itself so the per-thread pacing logic here has no
// knowledge of how many sibling threads exist.
type Coordinator interface {
	// WaitTimeSet blocks until Master has set BenchStartTime and released
	// the timeSetLatch, or stop fires.
	WaitTimeSet(stop <-chan struct{})
	// IsThreadZero reports whether this thread owns the driver's
	// PreRun/PostRun methods.
	IsThreadZero() bool
	// RunPreRun is called by thread 0 only, once, before any thread enters
	// Running; it must release the preRunLatch when it returns (success or
	// failure) so sibling threads unblock from WaitPreRun.
	RunPreRun() error
	// WaitPreRun blocks non-thread-0 threads until thread 0 has released
	// the preRunLatch.
	WaitPreRun(stop <-chan struct{})
	// CountDownPostRun is called by every thread once its main loop ends.
	CountDownPostRun()
	// WaitPostRunThenRun is called by thread 0 only: blocks until
	// postRunLatch reaches zero, then runs the driver's PostRun method.
	WaitPostRunThenRun() error
	// Abort reports a fatal condition to Master (the agent->master
	// abortRun upcall).
	Abort(err error)
}

// AgentThread drives one virtual user: a goroutine looping over one or two
// mixes until its Pacer says to stop.
type AgentThread struct {
	id           int
	driverName   string
	driverConfig *runmodel.DriverConfig
	runInfo      *runmodel.RunInfo
	coord        Coordinator
	timer        *timing.Timer
	rand         *rng.Random
	metrics      *metrics.ThreadMetrics
	dctx         *drivercontext.DriverContext
	pace         pacer.Pacer
	selectors    [2]mix.Selector
	watcher      *StateWatcher
	stop         chan struct{}
}

// mixState is the per-mix scheduling state carried across ticks of the main
// loop: startTime/endTime are the previous tick's recorded timings, used as
// the CycleTime/ThinkTime pacing baseline for the next tick. Operation
// selection always happens every tick; only the *cycle used to pace it* is
// initialDelay on that mix's first tick (see DESIGN.md).
type mixState struct {
	selector   mix.Selector
	first      bool
	startTime  int64
	endTime    int64
	cycleCount int64
	// invokeTime, opIdx cache this tick's decision between the "compute"
	// and "execute" phases of the loop below; invokeTime < 0 means not yet
	// computed for the upcoming tick.
	invokeTime int64
	opIdx      int
}

// New constructs an AgentThread. selectors[0] drives the foreground mix;
// selectors[1] is used only when pace.NumMixes() is 2.
func New(
	id int,
	driverName string,
	dc *runmodel.DriverConfig,
	ri *runmodel.RunInfo,
	coord Coordinator,
	timer *timing.Timer,
	seed int64,
	selectors [2]mix.Selector,
	pace pacer.Pacer,
) *AgentThread {
	steadyFn := func(start, end int64) bool {
		wstart, wend := ri.SteadyStateWindow()
		return start >= wstart && end < wend
	}
	t := &AgentThread{
		id:           id,
		driverName:   driverName,
		driverConfig: dc,
		runInfo:      ri,
		coord:        coord,
		timer:        timer,
		rand:         rng.New(seed),
		metrics:      metrics.NewThreadMetrics(id, dc.OperationNames(), 0, metrics.DefaultResolution),
		dctx:         drivercontext.New(id, driverName, timer, steadyFn, nil),
		pace:         pace,
		selectors:    selectors,
		watcher:      NewStateWatcher(),
		stop:         make(chan struct{}),
	}
	return t
}

// State returns the thread's current lifecycle state.
func (t *AgentThread) State() State { return t.watcher.Current() }

// Watcher exposes the StateWatcher so Agent can wait for PostRun-readiness
// etc. without polling.
func (t *AgentThread) Watcher() *StateWatcher { return t.watcher }

// Metrics returns this thread's metrics; only safe to read after the thread
// reaches Ended.
func (t *AgentThread) Metrics() *metrics.ThreadMetrics { return t.metrics }

// Stop requests early termination (Master.abortRun fan-out).
func (t *AgentThread) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// Run is the thread's entire lifecycle; intended to be invoked as its own
// goroutine by Agent. fatal, if non-nil, is already logged (FatalError.Logged
// is true) so Agent shouldn't log it again.
func (t *AgentThread) Run() (fatal *FatalError) {
	numMixes := t.pace.NumMixes()
	selectors := t.selectors
	t.watcher.Set(Initializing)
	t.coord.WaitTimeSet(t.stop)
	select {
	case <-t.stop:
		t.watcher.Set(Ended)
		return nil
	default:
	}

	now := t.timer.Now()
	if now >= t.runInfo.BenchStartTime {
		fe := NewFatalError("agentthread %d: TriggerTime has expired (benchStartTime=%d, now=%d)", t.id, t.runInfo.BenchStartTime, now)
		t.logFatal(fe)
		t.coord.Abort(fe)
		t.watcher.Set(Ended)
		return fe
	}
	if interrupted := t.timer.SleepUntil(t.runInfo.BenchStartTime, t.stop); interrupted {
		t.watcher.Set(Ended)
		return nil
	}

	if t.coord.IsThreadZero() {
		t.watcher.Set(PreRun)
		if err := t.coord.RunPreRun(); err != nil {
			fe := WrapFatal(err)
			t.logFatal(fe)
			t.coord.Abort(fe)
			t.watcher.Set(Ended)
			return fe
		}
	} else {
		t.coord.WaitPreRun(t.stop)
	}

	t.watcher.Set(Running)
	fatal = t.runLoop(numMixes, selectors)
	t.coord.CountDownPostRun()

	if t.coord.IsThreadZero() {
		t.watcher.Set(PostRun)
		if err := t.coord.WaitPostRunThenRun(); err != nil && fatal == nil {
			fatal = WrapFatal(err)
			t.logFatal(fatal)
		}
	}
	t.watcher.Set(Ended)
	return fatal
}

func (t *AgentThread) logFatal(fe *FatalError) {
	if fe == nil || fe.Logged {
		return
	}
	log.Errf("agentthread %d (%s): fatal: %v", t.id, t.driverName, fe.Cause)
	fe.Logged = true
}

// runLoop implements the per-mix main loop, multiplexed across 1 or 2
// mixes within this single goroutine when background is configured: two
// independent virtual clocks share the same OS thread via strict
// interleaving -- whichever mix's invokeTime is soonest runs next; a
// currently-executing operation is never preempted by the other mix.
func (t *AgentThread) runLoop(numMixes int, selectors [2]mix.Selector) *FatalError {
	baseline := t.timer.Now()
	states := make([]*mixState, numMixes)
	for m := 0; m < numMixes; m++ {
		states[m] = &mixState{selector: selectors[m], first: true, startTime: baseline, endTime: baseline, invokeTime: -1}
	}

	for {
		var cycleCounts [2]int64
		for m, s := range states {
			cycleCounts[m] = s.cycleCount
		}
		if t.pace.Done(t.timer.Now(), cycleCounts) {
			return nil
		}
		select {
		case <-t.stop:
			return nil
		default:
		}

		for m, s := range states {
			if s.invokeTime < 0 {
				t.scheduleNext(m, s)
			}
		}
		target := states[0].invokeTime
		which := 0
		for m := 1; m < numMixes; m++ {
			if states[m].invokeTime < target {
				target = states[m].invokeTime
				which = m
			}
		}

		if interrupted := t.timer.SleepUntil(target, t.stop); interrupted {
			return nil
		}

		fe := t.executeTick(which, states[which])
		if fe != nil {
			return fe
		}
		states[which].invokeTime = -1
		states[which].cycleCount++
	}
}

// scheduleNext fills in s.opIdx/s.invokeTime for the upcoming tick of mix
// mixIndex. Operation selection happens on every tick, including the
// first; only the cycle descriptor used
// to pace that tick differs on the first one, per DESIGN.md's resolution of
// the "op=null uses initialDelay" wording: there being no real predecessor
// operation yet, the mix's configured InitialDelay stands in for it.
func (t *AgentThread) scheduleNext(mixIndex int, s *mixState) {
	s.opIdx = s.selector.Select(t.rand)
	var desc cycle.Cycle
	if s.first {
		desc = t.driverConfig.InitialDelay[mixIndex]
	} else {
		desc = t.driverConfig.Operations[s.opIdx].Cycle
	}
	delay := desc.Draw(t.rand)
	if desc.Type == cycle.ThinkTime {
		s.invokeTime = s.endTime + delay
	} else {
		s.invokeTime = s.startTime + delay
	}
}

// executeTick invokes the operation chosen by the prior scheduleNext call
// for mix mixIndex, validates/classifies the result and records it into
// metrics if the invocation falls inside the steady-state window. Returns
// non-nil only for a fatal condition that should abort the run.
func (t *AgentThread) executeTick(mixIndex int, s *mixState) *FatalError {
	op := t.driverConfig.Operations[s.opIdx]
	t.dctx.BeginOperation(op.Name)
	ctx := t.dctx.WithContext(context.Background())

	// RecordTime is the transport's responsibility for both AUTO and
	// MANUAL operations; AgentThread never stamps it itself, or the
	// "Transport not called" fatal below could never fire for AUTO.
	runErr := op.Run(ctx)
	info := t.dctx.Timing()

	if runErr != nil {
		var fe *FatalError
		if errors.As(runErr, &fe) {
			t.logFatal(fe)
			t.coord.Abort(fe)
			return fe
		}
		// An ordinary (non-fatal) error is logged and counted as a failed
		// invocation; the transport may not have reached the point where
		// it calls RecordTime at all, so timing is not required here.
		if info.InvokeTime != runmodel.Unset && info.RespondTime != runmodel.Unset &&
			t.dctx.IsSteadyStateRange(info.InvokeTime, info.RespondTime) {
			latency := float64(info.RespondTime-info.InvokeTime) / 1000.0
			t.metrics.RecordFailure(s.opIdx, latency)
		}
		log.LogVf("agentthread %d: operation %q failed: %v", t.id, op.Name, runErr)
	} else {
		if info.InvokeTime == runmodel.Unset || info.RespondTime == runmodel.Unset {
			fe := NewFatalError("agentthread %d: operation %q returned successfully without recording its timing (Transport not called)", t.id, op.Name)
			t.logFatal(fe)
			t.coord.Abort(fe)
			return fe
		}
		if t.dctx.IsSteadyStateRange(info.InvokeTime, info.RespondTime) {
			latency := float64(info.RespondTime-info.InvokeTime) / 1000.0
			t.metrics.RecordSuccess(s.opIdx, latency)
		}
	}

	if info.InvokeTime != runmodel.Unset && info.RespondTime != runmodel.Unset {
		s.startTime = info.InvokeTime
		s.endTime = info.RespondTime
	} else {
		now := t.timer.Now()
		s.startTime = now
		s.endTime = now
	}
	s.first = false
	return nil
}
