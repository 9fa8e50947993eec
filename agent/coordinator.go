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

package agent

import (
	"errors"

	"fortio.org/log"

	"github.com/perfharness/loadharness/agentthread"
)

// threadCoordinator is the per-thread handle to an activeRun's shared
// barriers: the barriers themselves (timeSetLatch, preRunLatch,
// postRunLatch) live on activeRun and are identical for every thread, but
// agentthread.Coordinator.IsThreadZero carries no thread id of its own, so
// each AgentThread needs its own Coordinator value that already knows
// which thread it is.
type threadCoordinator struct {
	run *activeRun
	id  int
}

var _ agentthread.Coordinator = (*threadCoordinator)(nil)

func (c *threadCoordinator) WaitTimeSet(stop <-chan struct{}) {
	select {
	case <-c.run.timeSet:
	case <-stop:
	}
}

// IsThreadZero designates thread 0 as the owner of the driver's
// PreRun/PostRun methods: PreRun runs once before any thread enters
// Running, PostRun once after every thread has finished its loop.
func (c *threadCoordinator) IsThreadZero() bool { return c.id == 0 }

// RunPreRun executes the driver's PreRun method, if any, and always
// releases preRunLatch before returning. Any error PreRun returns is
// recorded and returned to thread 0, which treats it as fatal; an
// interrupted wait is not told apart from any other error.
func (c *threadCoordinator) RunPreRun() error {
	r := c.run
	r.preRunOnce.Do(func() {
		defer close(r.preRunDone)
		if r.driverCfg.PreRun == nil {
			return
		}
		if err := r.driverCfg.PreRun.Run(); err != nil {
			r.preRunErr = err
		}
	})
	return r.preRunErr
}

func (c *threadCoordinator) WaitPreRun(stop <-chan struct{}) {
	select {
	case <-c.run.preRunDone:
	case <-stop:
	}
}

// CountDownPostRun decrements postRunLatch; the last thread to call it
// closes postRunDone so the thread-0 waiter unblocks.
func (c *threadCoordinator) CountDownPostRun() {
	r := c.run
	r.postRunMu.Lock()
	r.postRunLeft--
	done := r.postRunLeft <= 0
	r.postRunMu.Unlock()
	if done {
		r.postRunOnce.Do(func() { close(r.postRunDone) })
	}
}

// WaitPostRunThenRun blocks for postRunLatch then runs the driver's
// PostRun method. postRunDone is never interrupted outside of process
// shutdown, so a single attempt with no stop channel is correct here
// (thread 0 has already finished its own workload by this point).
func (c *threadCoordinator) WaitPostRunThenRun() error {
	r := c.run
	<-r.postRunDone
	if r.driverCfg.PostRun == nil {
		return nil
	}
	return r.driverCfg.PostRun.Run()
}

// Abort implements the agent->master upcall: the first fatal condition
// observed fans out StopAll to every sibling thread
// locally and reports upstream to Master so it can StopAll the other
// Agents too.
func (c *threadCoordinator) Abort(err error) {
	r := c.run
	r.abortOnce.Do(func() {
		r.fatalMu.Lock()
		r.aborted = true
		r.abortErr = err
		r.fatalMu.Unlock()
		for _, th := range r.threads {
			th.Stop()
		}
		if r.master != nil {
			reason := "unknown fatal condition"
			if err != nil {
				reason = err.Error()
			}
			var fe *agentthread.FatalError
			if errors.As(err, &fe) && fe.Cause != nil {
				reason = fe.Cause.Error()
			}
			if sendErr := r.master.AbortRun(r.runID, reason); sendErr != nil {
				log.Errf("agent: reporting abort of %s to master: %v", r.runID, sendErr)
			}
		}
	})
}

func (r *activeRun) recordFatal(fe *agentthread.FatalError) {
	r.fatalMu.Lock()
	if r.fatal == nil {
		r.fatal = fe
	}
	r.fatalMu.Unlock()
}

func (r *activeRun) isAborted() bool {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.aborted || r.fatal != nil
}
