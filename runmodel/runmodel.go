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

// Package runmodel holds the data model shared by RunQueue, Master and
// Agent: Run, the sequence token minting scheme, RunInfo (the per-run
// configuration snapshot), Operation/DriverConfig (the driver-type
// configuration) and TimingInfo (the per-invocation timing triple).
package runmodel

import (
	"fmt"
	"regexp"
	"time"

	"github.com/perfharness/loadharness/cycle"
)

// SequenceToken is the (int, char) pair minted for each admitted run.
// Serialized as "<int>:<char>".
type SequenceToken struct {
	Int  int64
	Char byte // 'A'..'Z','a'..'z'
}

// InitialSequenceToken is used when the sequence file is missing or
// malformed: a missing/malformed file resets to (1, 'A').
var InitialSequenceToken = SequenceToken{Int: 1, Char: 'A'}

func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }

// Successor implements the char A->B->...->Z->a->...->z->(int++ , 'A') rule.
func (s SequenceToken) Successor() SequenceToken {
	switch {
	case isUpper(s.Char) && s.Char != 'Z':
		return SequenceToken{s.Int, s.Char + 1}
	case s.Char == 'Z':
		return SequenceToken{s.Int, 'a'}
	case isLower(s.Char) && s.Char != 'z':
		return SequenceToken{s.Int, s.Char + 1}
	case s.Char == 'z':
		return SequenceToken{s.Int + 1, 'A'}
	default:
		return SequenceToken{s.Int, 'A'}
	}
}

// Predecessor is the exact inverse of Successor, except at the (1,'A')
// boundary which has no predecessor (ok is false).
func (s SequenceToken) Predecessor() (SequenceToken, bool) {
	if s == InitialSequenceToken {
		return SequenceToken{}, false
	}
	switch {
	case s.Char == 'A':
		if s.Int <= 1 {
			return SequenceToken{}, false
		}
		return SequenceToken{s.Int - 1, 'z'}, true
	case s.Char == 'a':
		return SequenceToken{s.Int, 'Z'}, true
	default:
		return SequenceToken{s.Int, s.Char - 1}, true
	}
}

// String serializes the token as "<int>:<char>". A sequence file contains
// exactly one line in this form.
func (s SequenceToken) String() string {
	return fmt.Sprintf("%d:%c", s.Int, s.Char)
}

// Suffix is the "<int><char>" suffix used in run ids and queue directory
// names, e.g. "12B".
func (s SequenceToken) Suffix() string {
	return fmt.Sprintf("%d%c", s.Int, s.Char)
}

// ParseSequenceToken parses the "<int>:<char>" on-disk representation.
func ParseSequenceToken(s string) (SequenceToken, error) {
	var i int64
	var c rune
	n, err := fmt.Sscanf(s, "%d:%c", &i, &c)
	if err != nil || n != 2 {
		return SequenceToken{}, fmt.Errorf("runmodel: malformed sequence token %q", s)
	}
	if i < 1 || !(isUpper(byte(c)) || isLower(byte(c))) {
		return SequenceToken{}, fmt.Errorf("runmodel: invalid sequence token %q", s)
	}
	return SequenceToken{Int: i, Char: byte(c)}, nil
}

// Less orders two tokens by (int asc, char asc using A<B<...<Z<a<...<z),
// i.e. the lexical lettering order of Char, which matches ASCII order since
// 'A'-'Z' (65-90) sort below 'a'-'z' (97-122).
func (s SequenceToken) Less(o SequenceToken) bool {
	if s.Int != o.Int {
		return s.Int < o.Int
	}
	return s.Char < o.Char
}

// runIDPattern is the run id format ^[A-Za-z0-9_-]+\.\d+[A-Za-z]$.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.\d+[A-Za-z]$`)

// MakeRunID composes "<benchShortName>.<seqInt><seqChar>".
func MakeRunID(benchShortName string, token SequenceToken) string {
	return fmt.Sprintf("%s.%s", benchShortName, token.Suffix())
}

// ValidRunID reports whether id matches the run id format.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// Run is the immutable-after-admission run record.
type Run struct {
	RunID          string
	BenchShortName string
	ParamRepository map[string]string // opaque key-value snapshot
	Submitter      string
	SubmitTime     time.Time
}

// TimingMode selects whether the transport (AUTO) or the user operation
// (MANUAL) is responsible for calling DriverContext.recordTime.
type TimingMode int

const (
	AUTO TimingMode = iota
	MANUAL
)

func (t TimingMode) String() string {
	if t == MANUAL {
		return "MANUAL"
	}
	return "AUTO"
}

// RunControl selects the AgentThread termination discipline.
type RunControl int

const (
	// TIME runs until wall time passes the phase schedule's end.
	TIME RunControl = iota
	// CYCLES runs until a fixed cycle count is reached.
	CYCLES
)

func (r RunControl) String() string {
	if r == CYCLES {
		return "CYCLES"
	}
	return "TIME"
}

// Operation is one entry of a driver's operation table. Run is the opaque
// user-supplied callable; the core never inspects it beyond invoking it.
type Operation struct {
	Name       string
	Timing     TimingMode
	Cycle      cycle.Cycle
	Background bool
	Run        OperationFunc
}

// OperationFunc is the opaque user-defined operation callable. ctx exposes
// DriverContext via context.Value (see drivercontext.FromContext); the
// return error, if non-nil and wrapping FatalError, aborts the run.
type OperationFunc func(ctx OperationContext) error

// OperationContext is the minimal surface AgentThread needs to pass to an
// operation: the rest (DriverContext) travels over context.Context so user
// code can use context-aware transports.
type OperationContext interface{}

// MethodDescriptor is an opaque handle to a once-before/once-after style
// pre-run/post-run method.
type MethodDescriptor struct {
	Name string
	Run  func() error
}

// DriverConfig is the per-driver-type configuration snapshot (part of
// RunInfo).
type DriverConfig struct {
	Operations   []Operation
	Mix          [2]*Mix   // Mix[1] nil disables background.
	InitialDelay [2]cycle.Cycle
	RunControl   RunControl
	Cycles       int64 // used when RunControl == CYCLES
	PreRun       *MethodDescriptor
	PostRun      *MethodDescriptor
}

// OperationNames returns the operation names in table order, used to size
// per-thread metrics.
func (d *DriverConfig) OperationNames() []string {
	names := make([]string, len(d.Operations))
	for i, op := range d.Operations {
		names[i] = op.Name
	}
	return names
}

// Mix is the raw matrix configuration for one mix id (foreground=0,
// background=1); see the mix package for the runtime Selector built from
// it.
type Mix struct {
	// A single-row Matrix is a flat (stateless) mix: Matrix[0] is the row
	// distribution. A Matrix with more rows must be square and makes it a
	// Markov mix, see mix.NewMatrixMix.
	Matrix [][]float64
}

// RunInfo is the per-run configuration snapshot broadcast to every Agent.
type RunInfo struct {
	RunID          string
	BenchStartTime int64 // absolute master-clock ms
	RampUp         time.Duration
	SteadyState    time.Duration
	RampDown       time.Duration
	DriverConfigs  map[string]*DriverConfig // keyed by driver type name
}

// SteadyStateWindow returns the [start, end) master-ms window metrics are
// counted in.
func (ri *RunInfo) SteadyStateWindow() (start, end int64) {
	start = ri.BenchStartTime + ri.RampUp.Milliseconds()
	end = start + ri.SteadyState.Milliseconds()
	return
}

// EndTime is the wall time (master-ms) at which the run's phases are all
// complete (used by TimeThread/TimeThreadWithBackground termination).
func (ri *RunInfo) EndTime() int64 {
	return ri.BenchStartTime + ri.RampUp.Milliseconds() + ri.SteadyState.Milliseconds() + ri.RampDown.Milliseconds()
}

// TimingInfo is the per-invocation (invokeTime, respondTime, pauseTime)
// triple in master-adjusted ms; -1 means unset.
type TimingInfo struct {
	InvokeTime  int64
	RespondTime int64
	PauseTime   int64
}

// Unset is the sentinel value for a TimingInfo field that hasn't been
// recorded yet.
const Unset int64 = -1

// NewTimingInfo returns a TimingInfo with all fields Unset.
func NewTimingInfo() TimingInfo {
	return TimingInfo{InvokeTime: Unset, RespondTime: Unset, PauseTime: Unset}
}

// Reset clears t back to the all-Unset state, for reuse across
// invocations on the same thread.
func (t *TimingInfo) Reset() {
	*t = NewTimingInfo()
}
