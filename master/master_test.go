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

package master_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perfharness/loadharness/agent"
	"github.com/perfharness/loadharness/cycle"
	"github.com/perfharness/loadharness/drivercontext"
	"github.com/perfharness/loadharness/master"
	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/runmodel"
)

func flatDriver(cycles int64) agent.Driver {
	return func(_ map[string]string) (*runmodel.DriverConfig, error) {
		return &runmodel.DriverConfig{
			Operations: []runmodel.Operation{{
				Name:   "op",
				Timing: runmodel.AUTO,
				Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 1}},
				Run: func(ctx runmodel.OperationContext) error {
					// An AUTO operation's transport records invoke and respond times.
					dctx := drivercontext.FromContext(ctx.(context.Context))
					dctx.RecordTime()
					dctx.RecordTime()
					return nil
				},
			}},
			Mix:          [2]*runmodel.Mix{{Matrix: [][]float64{{1}}}},
			InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
			RunControl:   runmodel.CYCLES,
			Cycles:       cycles,
		}, nil
	}
}

// newMasterServer wires a Master's RegisterMasterHandlers onto a test
// server and returns both, so an Agent under test can be pointed at it.
func newMasterServer(t *testing.T, agentURLs []string) (*master.Master, *httptest.Server) {
	t.Helper()
	m := master.New(agentURLs, 5*time.Second, 50*time.Millisecond)
	mux := http.NewServeMux()
	rpcwire.RegisterMasterHandlers(mux, m)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return m, srv
}

func newAgentServer(t *testing.T, masterURL string, reg *agent.Registry) (*agent.Agent, *httptest.Server) {
	t.Helper()
	var client *rpcwire.Client
	if masterURL != "" {
		client = rpcwire.New(masterURL, 5*time.Second)
	}
	a := agent.New(reg, client)
	mux := http.NewServeMux()
	rpcwire.RegisterAgentHandlers(mux, a)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return a, srv
}

func TestEndToEndRun(t *testing.T) {
	// The master server and the agent server each need the other's URL,
	// so start the master's httptest.Server against an empty mux first and
	// register its handlers once both URLs are known.
	mMux := http.NewServeMux()
	reg := agent.NewRegistry()
	reg.Register("flat", flatDriver(5))

	msrv := httptest.NewServer(mMux)
	defer msrv.Close()

	_, asrv := newAgentServer(t, msrv.URL, reg)

	m := master.New([]string{asrv.URL}, 5*time.Second, 300*time.Millisecond)
	rpcwire.RegisterMasterHandlers(mMux, m)

	opts := master.StartOptions{
		RunID:          "X.1A",
		DriverName:     "flat",
		ThreadsPerHost: 2,
		SteadyState:    time.Hour,
	}
	if err := m.StartRun(opts); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	report, err := m.JoinRun()
	if err != nil {
		t.Fatalf("JoinRun: %v", err)
	}
	if report.Aborted {
		t.Fatalf("expected non-aborted report")
	}
	names := report.OperationNames()
	if len(names) != 1 || names[0] != "op" {
		t.Fatalf("unexpected operations: %+v", names)
	}
	if report.Operation["op"].Success.Count == 0 {
		t.Fatalf("expected at least one recorded success")
	}
}

func TestKillUnknownRun(t *testing.T) {
	m := master.New(nil, time.Second, time.Millisecond)
	if err := m.Kill("nope"); err == nil {
		t.Fatalf("expected error killing a run that never started")
	}
}

func TestAbortRunIgnoresMismatchedRunID(t *testing.T) {
	m, _ := newMasterServer(t, nil)
	if err := m.AbortRun("no-such-run", "spurious"); err != nil {
		t.Fatalf("AbortRun on an unknown/inactive run should be a no-op, got %v", err)
	}
}
