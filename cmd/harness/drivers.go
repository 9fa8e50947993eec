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

package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/perfharness/loadharness/agent"
	"github.com/perfharness/loadharness/cycle"
	"github.com/perfharness/loadharness/drivercontext"
	"github.com/perfharness/loadharness/runmodel"
)

// recordTime pulls the DriverContext AgentThread attached to ctx and stamps
// the current invocation time. AUTO operations are responsible for calling
// this themselves around the work they do; AgentThread never calls it on
// their behalf.
func recordTime(ctx runmodel.OperationContext) {
	if cctx, ok := ctx.(context.Context); ok {
		if dctx := drivercontext.FromContext(cctx); dctx != nil {
			dctx.RecordTime()
		}
	}
}

// registerBuiltinDrivers populates reg with the demo drivers this binary
// ships: real deployments fork this command and register their own
// benchmark-specific operation tables the way a Faban benchmark jar brings
// its own driver class -- these three exist so the harness is runnable and
// testable out of the box.
func registerBuiltinDrivers(reg *agent.Registry) {
	reg.Register("noop", noopDriver)
	reg.Register("sleep", sleepDriver)
	reg.Register("http", httpDriver)
}

// noopDriver is a single operation that does nothing but record timing,
// useful for exercising the scheduling/metrics machinery without any
// target system.
func noopDriver(params map[string]string) (*runmodel.DriverConfig, error) {
	delayMs := int64(10)
	if v, ok := params["delayMs"]; ok {
		if d, err := strconv.ParseInt(v, 10, 64); err == nil {
			delayMs = d
		}
	}
	return &runmodel.DriverConfig{
		Operations: []runmodel.Operation{{
			Name:   "noop",
			Timing: runmodel.AUTO,
			Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: delayMs}},
			Run: func(ctx runmodel.OperationContext) error {
				recordTime(ctx)
				recordTime(ctx)
				return nil
			},
		}},
		Mix:          [2]*runmodel.Mix{{Matrix: [][]float64{{1}}}},
		InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
		RunControl:   runmodel.TIME,
	}, nil
}

// sleepDriver's operation sleeps for a configurable duration, simulating a
// slow target system so ramp-up/steady-state/ramp-down windowing can be
// exercised end to end.
func sleepDriver(params map[string]string) (*runmodel.DriverConfig, error) {
	sleepMs := int64(5)
	if v, ok := params["sleepMs"]; ok {
		if d, err := strconv.ParseInt(v, 10, 64); err == nil {
			sleepMs = d
		}
	}
	return &runmodel.DriverConfig{
		Operations: []runmodel.Operation{{
			Name:   "sleep",
			Timing: runmodel.AUTO,
			Cycle:  cycle.Cycle{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: sleepMs}},
			Run: func(ctx runmodel.OperationContext) error {
				recordTime(ctx)
				time.Sleep(time.Duration(sleepMs) * time.Millisecond)
				recordTime(ctx)
				return nil
			},
		}},
		Mix:          [2]*runmodel.Mix{{Matrix: [][]float64{{1}}}},
		InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
		RunControl:   runmodel.TIME,
	}, nil
}

// httpDriver's operation GETs params["url"] on every invocation. Built on
// net/http directly rather than this module's own HTTP load-generation
// transport (see DESIGN.md's note on that subsystem's disposition): a real
// benchmark's Driver is free to bring whatever client it needs, which is
// exactly the point of the operation table being opaque user code.
func httpDriver(params map[string]string) (*runmodel.DriverConfig, error) {
	url, ok := params["url"]
	if !ok || url == "" {
		return nil, fmt.Errorf("http driver: missing required param %q", "url")
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return &runmodel.DriverConfig{
		Operations: []runmodel.Operation{{
			Name:   "http",
			Timing: runmodel.AUTO,
			Cycle:  cycle.Cycle{Type: cycle.ThinkTime, Distribution: cycle.Fixed{DelayMillis: 0}},
			Run: func(ctx runmodel.OperationContext) error {
				recordTime(ctx)
				resp, err := client.Get(url)
				recordTime(ctx)
				if err != nil {
					return fmt.Errorf("http driver: %w", err)
				}
				defer resp.Body.Close()
				if resp.StatusCode < 200 || resp.StatusCode >= 400 {
					return fmt.Errorf("http driver: unexpected status %d from %s", resp.StatusCode, url)
				}
				return nil
			},
		}},
		Mix:          [2]*runmodel.Mix{{Matrix: [][]float64{{1}}}},
		InitialDelay: [2]cycle.Cycle{{Type: cycle.CycleTime, Distribution: cycle.Fixed{DelayMillis: 0}}},
		RunControl:   runmodel.TIME,
	}, nil
}
