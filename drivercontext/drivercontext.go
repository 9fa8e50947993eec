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

// Package drivercontext implements the per-thread object a user operation
// receives: recordTime(), isSteadyState() and the opaque identity
// accessors. One DriverContext instance lives per AgentThread and
// is reused across every invocation on that thread; it is never shared
// across threads (same ownership discipline as metrics.ThreadMetrics).
package drivercontext

import (
	"context"

	"github.com/perfharness/loadharness/runmodel"
	"github.com/perfharness/loadharness/timing"
)

// ctxKey is the context.Value key under which a DriverContext travels, so
// user operations that accept a context.Context can reach it without an
// explicit parameter (the same context.WithValue(ThreadID) idiom
// periodic.AccessLogger uses).
type ctxKey struct{}

// SteadyStateFunc reports whether [start,end) lies entirely in the run's
// steady-state window; it is supplied by the AgentThread's pacer/variant so
// DriverContext.IsSteadyState can delegate without knowing about phases.
type SteadyStateFunc func(start, end int64) bool

// CookieHandler is deliberately opaque to the core, since HTTP/cookie
// transports are an external collaborator the core never depends on; it
// is carried only so DriverContext can hand it to transport code that
// wants it.
type CookieHandler interface{}

// DriverContext is the per-thread state exposed to user operation code.
type DriverContext struct {
	threadID      int
	driverName    string
	timer         *timing.Timer
	steadyState   SteadyStateFunc
	cookieHandler CookieHandler

	timing      runmodel.TimingInfo
	recordCalls int // calls to RecordTime since the last Reset
	opName      string
}

// New creates a DriverContext for one AgentThread.
func New(threadID int, driverName string, timer *timing.Timer, steadyState SteadyStateFunc, cookies CookieHandler) *DriverContext {
	dc := &DriverContext{
		threadID:      threadID,
		driverName:    driverName,
		timer:         timer,
		steadyState:   steadyState,
		cookieHandler: cookies,
	}
	dc.timing.Reset()
	return dc
}

// WithContext returns a child of ctx carrying dc, retrievable with
// FromContext.
func (dc *DriverContext) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, dc)
}

// FromContext extracts a DriverContext previously attached with
// WithContext, or nil if none is present.
func FromContext(ctx context.Context) *DriverContext {
	dc, _ := ctx.Value(ctxKey{}).(*DriverContext)
	return dc
}

// BeginOperation resets the recorded-call counter and current operation
// name ahead of invoking the next operation (called by AgentThread, not by
// user code).
func (dc *DriverContext) BeginOperation(opName string) {
	dc.opName = opName
	dc.recordCalls = 0
	dc.timing.Reset()
}

// RecordTime stamps the current master-adjusted time into invokeTime on
// its first call within an operation and respondTime on its second; any
// further call within the same operation replaces respondTime, allowing
// retries to re-stamp the completion time.
func (dc *DriverContext) RecordTime() {
	now := dc.timer.Now()
	dc.recordCalls++
	switch dc.recordCalls {
	case 1:
		dc.timing.InvokeTime = now
	default:
		dc.timing.RespondTime = now
	}
}

// Timing returns the current operation's timing triple.
func (dc *DriverContext) Timing() runmodel.TimingInfo {
	return dc.timing
}

// IsSteadyState reports whether the current timing triple's
// [invokeTime,respondTime] lies entirely in the run's steady-state window.
func (dc *DriverContext) IsSteadyState() bool {
	return dc.IsSteadyStateRange(dc.timing.InvokeTime, dc.timing.RespondTime)
}

// IsSteadyStateRange reports whether [start,end) lies entirely in the
// run's steady-state window.
func (dc *DriverContext) IsSteadyStateRange(start, end int64) bool {
	if dc.steadyState == nil {
		return false
	}
	return dc.steadyState(start, end)
}

// GetOperationID returns the name of the operation currently executing.
func (dc *DriverContext) GetOperationID() string {
	return dc.opName
}

// GetDriverName returns the configured driver type name.
func (dc *DriverContext) GetDriverName() string {
	return dc.driverName
}

// GetThreadID returns the 0-based thread index within the Agent.
func (dc *DriverContext) GetThreadID() int {
	return dc.threadID
}

// GetCookieHandler returns the opaque cookie handler, if any was
// configured for this driver instance (spec's Design Notes: constructed
// per driver instance, not via an inheritable thread-local).
func (dc *DriverContext) GetCookieHandler() CookieHandler {
	return dc.cookieHandler
}
