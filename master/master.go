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

// Package master implements the run controller that instantiates Agents,
// runs the clock-sync/barrier-release start protocol, collects and merges
// per-Agent metrics, and propagates abort. One Master drives at most one
// run at a time, matching RunQueue/RunDaemon's single-run admission
// upstream; it does not schedule runs across multiple concurrent tenants.
package master

import (
	"fmt"
	"sync"
	"time"

	"fortio.org/log"
	"fortio.org/sets"

	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/timing"
)

// State is the Master's run-wide lifecycle; an abort transitions the
// master to Aborting.
type State int

const (
	Idle State = iota
	Running
	Aborting
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Aborting:
		return "ABORTING"
	case Done:
		return "DONE"
	default:
		return "IDLE"
	}
}

// StartOptions parameterizes StartRun; a real deployment typically derives
// these from the run's params.json plus a per-benchmark driver name
// resolved by the caller.
type StartOptions struct {
	RunID          string
	DriverName     string
	ThreadsPerHost int
	RampUp         time.Duration
	SteadyState    time.Duration
	RampDown       time.Duration
	Params         map[string]string
}

// Master coordinates a fixed set of Agent hosts: it starts them, broadcasts
// the run's start time, collects their metrics, and handles abort.
type Master struct {
	agentURLs   []string
	timeout     time.Duration
	startupSlack time.Duration
	timer       *timing.Timer

	mu    sync.Mutex
	state State
	run   *runState
}

// runState holds everything specific to the currently executing run.
type runState struct {
	runID  string
	agents []*rpcwire.Client

	// ready and stopped track agent base URLs by handle rather than by
	// slice position, so abort/join logging can report "3 of 4 agents
	// acknowledged" without re-deriving it from agents on every call.
	ready   sets.Set[string]
	stopped sets.Set[string]

	abortOnce sync.Once
	aborted   bool
	reason    string
}

// New constructs a Master over a static list of Agent base URLs. timeout
// bounds every individual RPC; startupSlack is the headroom added past the
// moment the last Configure call returns (benchStartTime = now +
// startupSlack), to give every Agent's goroutines time to reach
// initializing before the barrier opens.
func New(agentURLs []string, timeout, startupSlack time.Duration) *Master {
	return &Master{
		agentURLs:    agentURLs,
		timeout:      timeout,
		startupSlack: startupSlack,
		timer:        timing.NewTimer(),
	}
}

// CurrentTimeMillis implements rpcwire.MasterHandlers: the clock every
// Agent synchronizes against.
func (m *Master) CurrentTimeMillis() int64 {
	return m.timer.Now()
}

// AbortRun implements rpcwire.MasterHandlers: the Agent -> Master upcall
// reporting a fatal condition. Idempotent: a second call for the same run
// is a no-op.
func (m *Master) AbortRun(runID, reason string) error {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil || run.runID != runID {
		return nil
	}
	m.abort(run, reason)
	return nil
}

// Kill is the harness-facing equivalent of AbortRun, for an operator-issued
// "kill <runId>" stop.
func (m *Master) Kill(runID string) error {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil || run.runID != runID {
		return fmt.Errorf("master: no active run %q", runID)
	}
	m.abort(run, "killed by operator")
	return nil
}

func (m *Master) abort(run *runState, reason string) {
	run.abortOnce.Do(func() {
		run.aborted = true
		run.reason = reason
		m.mu.Lock()
		m.state = Aborting
		m.mu.Unlock()
		log.Warnf("master: aborting run %s: %s", run.runID, reason)
		for _, c := range run.agents {
			if err := c.StopAll(run.runID); err != nil {
				log.Errf("master: stopAll on %s for %s: %v", c.BaseURL, run.runID, err)
				continue
			}
			run.stopped.Add(c.BaseURL)
		}
		log.LogVf("master: stopped %d/%d agents for %s", run.stopped.Len(), len(run.agents), run.runID)
	})
}

// StartRun implements the start protocol: configure every
// Agent (which, as a side effect of Configure, samples this Master's clock
// and records its offset -- see agent.Agent.Configure), compute
// benchStartTime from this Master's own now-that-every-Agent-is-ready
// instant, and broadcast Start so every Agent releases its timeSetLatch.
func (m *Master) StartRun(opts StartOptions) error {
	m.mu.Lock()
	if m.state == Running {
		m.mu.Unlock()
		return fmt.Errorf("master: a run is already in progress")
	}
	m.state = Running
	run := &runState{runID: opts.RunID, ready: sets.New[string](), stopped: sets.New[string]()}
	m.run = run
	m.mu.Unlock()

	for _, url := range m.agentURLs {
		run.agents = append(run.agents, rpcwire.New(url, m.timeout))
	}

	for _, c := range run.agents {
		err := c.Configure(&rpcwire.ConfigureRequest{
			RunID:       opts.RunID,
			DriverName:  opts.DriverName,
			ThreadCount: opts.ThreadsPerHost,
			RampUp:      opts.RampUp,
			SteadyState: opts.SteadyState,
			RampDown:    opts.RampDown,
			Params:      opts.Params,
		})
		if err != nil {
			m.resetIdle()
			return fmt.Errorf("master: configuring %s: %w", c.BaseURL, err)
		}
		run.ready.Add(c.BaseURL)
	}
	log.LogVf("master: %d/%d agents configured for %s", run.ready.Len(), len(run.agents), opts.RunID)

	benchStartTime := m.timer.Now() + m.startupSlack.Milliseconds()
	for _, c := range run.agents {
		if err := c.Start(&rpcwire.StartRequest{RunID: opts.RunID, BenchStartTime: benchStartTime}); err != nil {
			m.abort(run, fmt.Sprintf("starting %s: %v", c.BaseURL, err))
			return fmt.Errorf("master: starting %s: %w", c.BaseURL, err)
		}
	}
	return nil
}

func (m *Master) resetIdle() {
	m.mu.Lock()
	m.state = Idle
	m.run = nil
	m.mu.Unlock()
}

// JoinRun blocks until every Agent's GetResults returns (each blocks until
// its own AgentThreads are all Ended) and returns the merged report. A prior abort (via AbortRun or Kill) still produces a result, with
// Aborted set and only the metrics collected so far.
func (m *Master) JoinRun() (*Report, error) {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return nil, fmt.Errorf("master: no active run")
	}

	report := newReport(run.runID)
	var firstErr error
	for _, c := range run.agents {
		resp, err := c.GetResults(run.runID)
		if err != nil {
			log.Errf("master: getResults from %s: %v", c.BaseURL, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if resp.Aborted {
			report.Aborted = true
		}
		report.merge(resp.Operations)
	}
	if run.aborted {
		report.Aborted = true
	}

	m.mu.Lock()
	m.state = Done
	m.mu.Unlock()
	return report, firstErr
}
