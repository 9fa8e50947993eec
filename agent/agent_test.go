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

package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/perfharness/loadharness/agent"
	"github.com/perfharness/loadharness/cycle"
	"github.com/perfharness/loadharness/drivercontext"
	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/runmodel"
)

func flatDriver(cycles int64, opErr error) agent.Driver {
	return func(params map[string]string) (*runmodel.DriverConfig, error) {
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
					return opErr
				},
			}},
			Mix:          [2]*runmodel.Mix{{Matrix: [][]float64{{1}}}},
			InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
			RunControl:   runmodel.CYCLES,
			Cycles:       cycles,
		}, nil
	}
}

func TestConfigureStartGetResults(t *testing.T) {
	reg := agent.NewRegistry()
	reg.Register("flat", flatDriver(5, nil))
	a := agent.New(reg, nil)

	if err := a.Configure(&rpcwire.ConfigureRequest{
		RunID:       "X.1A",
		DriverName:  "flat",
		ThreadCount: 2,
		SteadyState: time.Hour, // wide window so cycle-bound test runs still count
	}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := a.Start(&rpcwire.StartRequest{RunID: "X.1A", BenchStartTime: 200}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := a.GetResults("X.1A")
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if resp.Aborted {
		t.Fatalf("expected non-aborted run")
	}
	if len(resp.Operations) != 1 || resp.Operations[0].Name != "op" {
		t.Fatalf("unexpected operations: %+v", resp.Operations)
	}
}

func TestConfigureUnknownDriver(t *testing.T) {
	a := agent.New(agent.NewRegistry(), nil)
	err := a.Configure(&rpcwire.ConfigureRequest{RunID: "X.1A", DriverName: "nope", ThreadCount: 1})
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestStopAllUnknownRun(t *testing.T) {
	a := agent.New(agent.NewRegistry(), nil)
	if err := a.StopAll("nonexistent"); err == nil {
		t.Fatalf("expected error for unconfigured run")
	}
}
