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

// Package agent implements the per-host process that holds a run's
// AgentThreads and the three barriers (timeSetLatch, preRunLatch,
// postRunLatch) they synchronize on, plus the registry that resolves a
// ConfigureRequest's bare DriverName into the locally-resident operation
// table a real benchmark driver provides (the same way a Faban agent
// already has the benchmark jar loaded before Master ever talks to it).
package agent

import (
	"fmt"
	"sync"

	"fortio.org/log"

	"github.com/perfharness/loadharness/agentthread"
	"github.com/perfharness/loadharness/mix"
	"github.com/perfharness/loadharness/pacer"
	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/runmodel"
	"github.com/perfharness/loadharness/timing"
)

// Driver is what a benchmark registers with an Agent: a named DriverConfig
// factory. Separate from runmodel.DriverConfig itself because Cycle/Mix
// matrices and operation tables are typically parameterized by the
// ConfigureRequest's Params (spec's Glossary "Driver": resident benchmark
// code, configured afresh per run).
type Driver func(params map[string]string) (*runmodel.DriverConfig, error)

// Registry maps driver names to their factories; an Agent process registers
// every driver it's built with at startup.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = d
}

func (r *Registry) lookup(name string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

// Agent is the per-host process coordinating one run's threads. One Agent
// holds at most one loaded run at a time; Configure replaces the loaded run
// and fails only when asked to configure the RunID it already holds.
type Agent struct {
	registry *Registry
	master   *rpcwire.Client

	mu  sync.Mutex
	run *activeRun
}

// New constructs an Agent that reports clock offsets and fatal aborts to
// master.
func New(registry *Registry, master *rpcwire.Client) *Agent {
	return &Agent{registry: registry, master: master}
}

// activeRun holds everything Configure/Start/StopAll/GetResults act on for
// the one run this Agent currently has loaded.
type activeRun struct {
	runID      string
	driverName string
	driverCfg  *runmodel.DriverConfig
	runInfo    *runmodel.RunInfo
	timer      *timing.Timer
	master     *rpcwire.Client

	threads []*agentthread.AgentThread
	wg      sync.WaitGroup

	timeSetOnce sync.Once
	timeSet     chan struct{}

	preRunOnce sync.Once
	preRunDone chan struct{}
	preRunErr  error

	postRunMu    sync.Mutex
	postRunLeft  int
	postRunDone  chan struct{}
	postRunOnce  sync.Once

	abortOnce sync.Once
	aborted   bool
	abortErr  error

	fatalMu sync.Mutex
	fatal   *agentthread.FatalError
}

// Configure implements rpcwire.AgentHandlers: it loads req.DriverName from
// the registry, builds ThreadCount AgentThreads (not yet started -- they
// start on Run, spawned from Start) and readies the barriers.
func (a *Agent) Configure(req *rpcwire.ConfigureRequest) error {
	factory, ok := a.registry.lookup(req.DriverName)
	if !ok {
		return fmt.Errorf("agent: unknown driver %q", req.DriverName)
	}
	dc, err := factory(req.Params)
	if err != nil {
		return fmt.Errorf("agent: building driver %q: %w", req.DriverName, err)
	}
	if req.ThreadCount <= 0 {
		return fmt.Errorf("agent: invalid thread count %d", req.ThreadCount)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run != nil && a.run.runID == req.RunID {
		return fmt.Errorf("agent: run %s already configured", req.RunID)
	}

	ri := &runmodel.RunInfo{
		RunID:         req.RunID,
		RampUp:        req.RampUp,
		SteadyState:   req.SteadyState,
		RampDown:      req.RampDown,
		DriverConfigs: map[string]*runmodel.DriverConfig{req.DriverName: dc},
	}
	timer := timing.NewTimer()
	if a.master != nil {
		now, err := a.master.CurrentTimeMillis()
		if err != nil {
			return fmt.Errorf("agent: sampling master clock: %w", err)
		}
		timer.SetOffset(now)
	}

	run := &activeRun{
		runID:       req.RunID,
		driverName:  req.DriverName,
		driverCfg:   dc,
		runInfo:     ri,
		timer:       timer,
		master:      a.master,
		timeSet:     make(chan struct{}),
		preRunDone:  make(chan struct{}),
		postRunLeft: req.ThreadCount,
		postRunDone: make(chan struct{}),
	}

	threads := make([]*agentthread.AgentThread, req.ThreadCount)
	for i := 0; i < req.ThreadCount; i++ {
		threads[i] = agentthread.New(
			i,
			req.DriverName,
			dc,
			ri,
			&threadCoordinator{run: run, id: i},
			timer,
			int64(i+1),
			selectorsFor(dc),
			pacer.Select(dc, ri),
		)
	}
	run.threads = threads
	a.run = run
	log.Infof("agent: configured run %s (driver=%s threads=%d)", req.RunID, req.DriverName, req.ThreadCount)
	return nil
}

// selectorsFor builds the [2]mix.Selector pacer/agentthread need from the
// DriverConfig's raw matrices: FlatMix when Matrix[i] has one row and no
// transition structure is supplied, MatrixMix otherwise.
func selectorsFor(dc *runmodel.DriverConfig) [2]mix.Selector {
	var sel [2]mix.Selector
	for i, m := range dc.Mix {
		if m == nil {
			continue
		}
		if len(m.Matrix) == 1 {
			sel[i] = mix.NewFlatMix(m.Matrix[0])
			continue
		}
		mm, err := mix.NewMatrixMix(m.Matrix)
		if err != nil {
			log.Errf("agent: invalid mix matrix for mix %d: %v", i, err)
			sel[i] = mix.NewFlatMix(m.Matrix[0])
			continue
		}
		sel[i] = mm
	}
	return sel
}

// Start implements rpcwire.AgentHandlers: broadcasts BenchStartTime and
// releases the timeSetLatch, spawning every thread's goroutine.
func (a *Agent) Start(req *rpcwire.StartRequest) error {
	run, err := a.activeRunFor(req.RunID)
	if err != nil {
		return err
	}
	run.runInfo.BenchStartTime = req.BenchStartTime
	for _, th := range run.threads {
		run.wg.Add(1)
		go func(th *agentthread.AgentThread) {
			defer run.wg.Done()
			fe := th.Run()
			if fe != nil {
				run.recordFatal(fe)
			}
		}(th)
	}
	run.timeSetOnce.Do(func() { close(run.timeSet) })
	return nil
}

// StopAll implements rpcwire.AgentHandlers: signals every thread's stop
// channel. Master calls this on every Agent when any one of them reports
// an abort.
func (a *Agent) StopAll(runID string) error {
	run, err := a.activeRunFor(runID)
	if err != nil {
		return err
	}
	for _, th := range run.threads {
		th.Stop()
	}
	return nil
}

// GetResults implements rpcwire.AgentHandlers: blocks until every thread
// has reached Ended, then merges per-thread metrics into the wire-format
// response. Master only reads ThreadMetrics after that point.
func (a *Agent) GetResults(runID string) (*rpcwire.GetResultsResponse, error) {
	run, err := a.activeRunFor(runID)
	if err != nil {
		return nil, err
	}
	run.wg.Wait()

	agg := newAggregator(run)
	resp := &rpcwire.GetResultsResponse{Aborted: run.isAborted()}
	resp.Operations = agg
	return resp, nil
}

func (a *Agent) activeRunFor(runID string) (*activeRun, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.run == nil || a.run.runID != runID {
		return nil, fmt.Errorf("agent: no active run %q", runID)
	}
	return a.run, nil
}
