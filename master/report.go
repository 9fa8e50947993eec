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

package master

import (
	"sort"

	"fortio.org/version"

	"github.com/perfharness/loadharness/rpcwire"
)

// Report is Master's final, cross-Agent merged view of a run. Unlike
// metrics.AggregatedMetrics
// (which merges same-process stats.Histogram values via Transfer), Report
// merges the wire-format OperationHistogram summaries GetResults returns,
// since full per-bucket histograms never cross the Agent->Master RPC (see
// rpcwire.OperationHistogram's doc comment).
type Report struct {
	RunID     string
	Version   string
	Aborted   bool
	Operation map[string]*Summary
}

// Summary is one operation's merged success/failure counters across every
// Agent that ran it.
type Summary struct {
	Name    string
	Success rpcwire.OperationHistogram
	Failure rpcwire.OperationHistogram
}

func newReport(runID string) *Report {
	return &Report{RunID: runID, Version: version.Short(), Operation: make(map[string]*Summary)}
}

// merge folds one Agent's per-operation wire summaries into the report.
func (r *Report) merge(ops []rpcwire.OperationSummary) {
	for _, op := range ops {
		s, ok := r.Operation[op.Name]
		if !ok {
			s = &Summary{Name: op.Name}
			r.Operation[op.Name] = s
		}
		mergeHistogram(&s.Success, op.Success)
		mergeHistogram(&s.Failure, op.Failure)
	}
}

// mergeHistogram combines two count/min/max/sum/avg summaries. Avg is
// recomputed from the combined sum/count rather than averaged, since a
// naive average-of-averages would misweight agents with different sample
// counts.
func mergeHistogram(dst *rpcwire.OperationHistogram, src rpcwire.OperationHistogram) {
	if src.Count == 0 {
		return
	}
	if dst.Count == 0 {
		*dst = src
		return
	}
	if src.Min < dst.Min {
		dst.Min = src.Min
	}
	if src.Max > dst.Max {
		dst.Max = src.Max
	}
	dst.Sum += src.Sum
	dst.Count += src.Count
	dst.Avg = dst.Sum / float64(dst.Count)
}

// OperationNames returns the report's operation names in sorted order, for
// stable report rendering.
func (r *Report) OperationNames() []string {
	names := make([]string, 0, len(r.Operation))
	for name := range r.Operation {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
