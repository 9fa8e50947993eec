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
	"sort"

	"github.com/perfharness/loadharness/metrics"
	"github.com/perfharness/loadharness/rpcwire"
	"github.com/perfharness/loadharness/stats"
)

// newAggregator merges every thread's ThreadMetrics (safe to read now that
// run.wg.Wait has returned, i.e. every thread is Ended) into the
// wire-serializable projection GetResults returns.
func newAggregator(run *activeRun) []rpcwire.OperationSummary {
	agg := metrics.NewAggregatedMetrics(run.runID)
	for _, th := range run.threads {
		agg.Merge(th.Metrics())
	}

	names := make([]string, 0, len(agg.Operation))
	for name := range agg.Operation {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]rpcwire.OperationSummary, 0, len(names))
	for _, name := range names {
		op := agg.Operation[name]
		out = append(out, rpcwire.OperationSummary{
			Name:    name,
			Success: toHistogram(op.Success.Export(nil)),
			Failure: toHistogram(op.Failure.Export(nil)),
		})
	}
	return out
}

func toHistogram(d *stats.HistogramData) rpcwire.OperationHistogram {
	return rpcwire.OperationHistogram{
		Count: d.Count,
		Min:   d.Min,
		Max:   d.Max,
		Sum:   d.Sum,
		Avg:   d.Avg,
	}
}
