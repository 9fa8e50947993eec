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

// Package metrics aggregates per-operation latencies and counts into the
// final run report. A ThreadMetrics is owned exclusively by one
// AgentThread until that thread reaches the Ended state; only then does
// its Agent read and merge it via AggregatedMetrics.Merge, built on
// stats.Histogram's Transfer/Clone.
package metrics

import (
	"fortio.org/version"

	"github.com/perfharness/loadharness/stats"
)

// DefaultResolution matches periodic.DefaultRunnerOptions.Resolution:
// histogram buckets expressed in milliseconds.
const DefaultResolution = 0.001

// OperationStats holds the success and failure latency histograms for one
// operation. Counts, sum, sum-of-squares, min and max all live inside the
// embedded stats.Histogram/Counter.
type OperationStats struct {
	Name    string
	Success *stats.Histogram
	Failure *stats.Histogram
}

func newOperationStats(name string, offset, resolution float64) *OperationStats {
	return &OperationStats{
		Name:    name,
		Success: stats.NewHistogram(offset, resolution),
		Failure: stats.NewHistogram(offset, resolution),
	}
}

// ThreadMetrics is the per-thread counters and latency histograms for every
// operation in a driver's table, indexed by operation index.
type ThreadMetrics struct {
	ThreadID   int
	Operations []*OperationStats
}

// NewThreadMetrics allocates per-operation histograms for a thread, named
// for logging/reporting by opNames (index-aligned with the driver's
// operation table).
func NewThreadMetrics(threadID int, opNames []string, offset, resolution float64) *ThreadMetrics {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	ops := make([]*OperationStats, len(opNames))
	for i, n := range opNames {
		ops[i] = newOperationStats(n, offset, resolution)
	}
	return &ThreadMetrics{ThreadID: threadID, Operations: ops}
}

// RecordSuccess records a successful invocation's latency (seconds) against
// opIdx's success histogram. Callers must only call this for operations
// counted while the run is in steady state: ramp-time and ramp-down-time
// operations are never recorded.
func (tm *ThreadMetrics) RecordSuccess(opIdx int, latencySeconds float64) {
	if opIdx < 0 || opIdx >= len(tm.Operations) {
		return
	}
	tm.Operations[opIdx].Success.Record(latencySeconds)
}

// RecordFailure records a failed invocation's latency against opIdx's
// failure histogram, same steady-state restriction as RecordSuccess.
func (tm *ThreadMetrics) RecordFailure(opIdx int, latencySeconds float64) {
	if opIdx < 0 || opIdx >= len(tm.Operations) {
		return
	}
	tm.Operations[opIdx].Failure.Record(latencySeconds)
}

// AggregatedMetrics is the final, run-wide report: per-operation merged
// histograms plus run metadata. Merging is commutative and associative
// because it's built entirely out of stats.Histogram.Transfer.
type AggregatedMetrics struct {
	RunID     string
	Aborted   bool
	Version   string
	Operation map[string]*OperationStats
}

// NewAggregatedMetrics creates an empty report for runID, stamped with the
// harness version the way periodic.RunnerResults.Version does.
func NewAggregatedMetrics(runID string) *AggregatedMetrics {
	return &AggregatedMetrics{
		RunID:     runID,
		Version:   version.Short(),
		Operation: make(map[string]*OperationStats),
	}
}

// Merge folds one thread's metrics into the aggregate, consuming (emptying)
// the thread's histograms via Transfer so a thread's data is never double
// counted if Merge is called twice on the same ThreadMetrics by mistake.
func (a *AggregatedMetrics) Merge(tm *ThreadMetrics) {
	for _, op := range tm.Operations {
		agg, ok := a.Operation[op.Name]
		if !ok {
			agg = newOperationStats(op.Name, op.Success.Offset, op.Success.Divider)
			a.Operation[op.Name] = agg
		}
		agg.Success.Transfer(op.Success)
		agg.Failure.Transfer(op.Failure)
	}
}

// MarkAborted records that the run ended early via Master.abortRun; the
// partial metrics accumulated so far are still returned.
func (a *AggregatedMetrics) MarkAborted() {
	a.Aborted = true
}
