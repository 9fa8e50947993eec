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

// Package rpcwire is the wire schema and thin call wrappers for the two RPC
// surfaces the control plane needs: Agent -> Master (currentTimeMillis,
// abortRun) and Master -> Agent (configure, start, stopAll, getResults).
// Built directly on the jrpc package (JSON payloads over plain HTTP)
// rather than gRPC/protobuf: the request/response types here are plain
// structs, so there is no codegen step that would need the Go toolchain
// to produce stub code.
package rpcwire

import (
	"fmt"
	"net/http"
	"time"

	"fortio.org/log"
	"github.com/google/uuid"

	"github.com/perfharness/loadharness/jrpc"
)

// correlationIDHeader carries a fresh uuid on every outgoing call so a
// Master<->Agent exchange can be traced through both sides' logs even
// though the transport is stateless HTTP.
const correlationIDHeader = "X-Correlation-Id"

// Paths are fixed, versionless REST endpoints; the control plane is kept
// deliberately simple.
const (
	PathCurrentTime = "/rpc/currentTimeMillis"
	PathAbortRun    = "/rpc/abortRun"
	PathConfigure   = "/rpc/configure"
	PathStart       = "/rpc/start"
	PathStopAll     = "/rpc/stopAll"
	PathGetResults  = "/rpc/getResults"
)

// CurrentTimeResponse answers Agent's clock-offset sample.
type CurrentTimeResponse struct {
	jrpc.ServerReply
	NowMillis int64
}

// AbortRequest is Agent's upcall reporting a fatal condition.
type AbortRequest struct {
	RunID  string
	Reason string
}

// AbortResponse acknowledges an abort request; Error is set only for a
// malformed request or a handler error -- Master.AbortRun itself always
// accepts, being idempotent and best-effort.
type AbortResponse struct {
	jrpc.ServerReply
}

// ConfigureRequest tells an Agent which registered driver to load and how
// many threads to run it with for RunID; the operation table, mix and cycle
// descriptors themselves are resolved locally from the Agent's driver
// registry -- user-supplied code already resident in the Agent process,
// the same way a Faban agent already has the benchmark jar loaded, so only
// identifying configuration crosses the wire.
type ConfigureRequest struct {
	RunID       string
	DriverName  string
	ThreadCount int
	RampUp      time.Duration
	SteadyState time.Duration
	RampDown    time.Duration
	Params      map[string]string
}

type ConfigureResponse struct {
	jrpc.ServerReply
}

// StartRequest carries the run-wide BenchStartTime Master computed from its
// own clock plus its startup slack; each Agent has already synchronized its
// clock to Master's during Configure.
type StartRequest struct {
	RunID          string
	BenchStartTime int64
}

type StartResponse struct {
	jrpc.ServerReply
}

type StopAllRequest struct {
	RunID string
}

type StopAllResponse struct {
	jrpc.ServerReply
}

type GetResultsRequest struct {
	RunID string
}

// OperationSummary is the wire-serializable projection of
// metrics.OperationStats (stats.Histogram exports via Histogram.Export, not
// serialized raw, to keep the wire format stable across resolution/offset
// changes).
type OperationSummary struct {
	Name    string
	Success OperationHistogram
	Failure OperationHistogram
}

// OperationHistogram mirrors stats.HistogramData's externally useful
// summary fields without requiring the receiver to import stats.
type OperationHistogram struct {
	Count int64
	Min   float64
	Max   float64
	Sum   float64
	Avg   float64
}

type GetResultsResponse struct {
	jrpc.ServerReply
	Aborted    bool
	Operations []OperationSummary
}

// Client is a thin, named wrapper over jrpc.Destination calls; BaseURL has
// no trailing slash.
type Client struct {
	BaseURL string
	Timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, Timeout: timeout}
}

func (c *Client) dest(path string) *jrpc.Destination {
	id := uuid.New().String()
	headers := http.Header{}
	headers.Set(correlationIDHeader, id)
	log.LogVf("rpcwire: %s%s correlation=%s", c.BaseURL, path, id)
	return &jrpc.Destination{URL: c.BaseURL + path, Timeout: c.Timeout, Headers: &headers}
}

// CurrentTimeMillis is Agent's call to Master to sample its wall clock.
func (c *Client) CurrentTimeMillis() (int64, error) {
	res, err := jrpc.CallNoPayload[CurrentTimeResponse](c.dest(PathCurrentTime))
	if err != nil {
		return 0, err
	}
	return res.NowMillis, nil
}

// AbortRun is Agent's upcall to Master reporting a fatal condition.
func (c *Client) AbortRun(runID, reason string) error {
	_, err := jrpc.Call[AbortResponse](c.dest(PathAbortRun), &AbortRequest{RunID: runID, Reason: reason})
	return err
}

// Configure is Master's call telling an Agent to prepare runID.
func (c *Client) Configure(req *ConfigureRequest) error {
	_, err := jrpc.Call[ConfigureResponse](c.dest(PathConfigure), req)
	return err
}

// Start is Master's call releasing an Agent's timeSetLatch.
func (c *Client) Start(req *StartRequest) error {
	_, err := jrpc.Call[StartResponse](c.dest(PathStart), req)
	return err
}

// StopAll is Master's call aborting every thread of runID on this Agent.
func (c *Client) StopAll(runID string) error {
	_, err := jrpc.Call[StopAllResponse](c.dest(PathStopAll), &StopAllRequest{RunID: runID})
	return err
}

// GetResults is Master's call collecting an Agent's aggregated per-thread
// metrics after every thread reaches Ended.
func (c *Client) GetResults(runID string) (*GetResultsResponse, error) {
	return jrpc.Call[GetResultsResponse](c.dest(PathGetResults), &GetResultsRequest{RunID: runID})
}

// Each side that hosts an RPC surface implements one handler interface
// (Agent implements AgentHandlers: configure/start/stopAll/getResults;
// Master implements MasterHandlers: currentTimeMillis/abortRun);
// RegisterAgentHandlers and RegisterMasterHandlers wire the four/two
// endpoints plus small serialization boilerplate onto an *http.ServeMux.

// AgentHandlers is the server-side surface an Agent exposes to Master.
type AgentHandlers interface {
	Configure(req *ConfigureRequest) error
	Start(req *StartRequest) error
	StopAll(runID string) error
	GetResults(runID string) (*GetResultsResponse, error)
}

// logCorrelation logs the inbound request's correlation id, if the caller
// sent one (a server hit directly rather than through Client won't have
// one).
func logCorrelation(path string, r *http.Request) {
	if id := r.Header.Get(correlationIDHeader); id != "" {
		log.LogVf("rpcwire: %s correlation=%s", path, id)
	}
}

// RegisterAgentHandlers mounts h's four endpoints on mux.
func RegisterAgentHandlers(mux *http.ServeMux, h AgentHandlers) {
	mux.HandleFunc(PathConfigure, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathConfigure, r)
		req, err := jrpc.ProcessRequest[ConfigureRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad configure request", err)
			return
		}
		if err := h.Configure(req); err != nil {
			jrpc.ReplyError(w, "configure failed", err)
			return
		}
		jrpc.ReplyOk(w, &ConfigureResponse{})
	})
	mux.HandleFunc(PathStart, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathStart, r)
		req, err := jrpc.ProcessRequest[StartRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad start request", err)
			return
		}
		if err := h.Start(req); err != nil {
			jrpc.ReplyError(w, "start failed", err)
			return
		}
		jrpc.ReplyOk(w, &StartResponse{})
	})
	mux.HandleFunc(PathStopAll, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathStopAll, r)
		req, err := jrpc.ProcessRequest[StopAllRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad stopAll request", err)
			return
		}
		if err := h.StopAll(req.RunID); err != nil {
			jrpc.ReplyError(w, "stopAll failed", err)
			return
		}
		jrpc.ReplyOk(w, &StopAllResponse{})
	})
	mux.HandleFunc(PathGetResults, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathGetResults, r)
		req, err := jrpc.ProcessRequest[GetResultsRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad getResults request", err)
			return
		}
		resp, err := h.GetResults(req.RunID)
		if err != nil {
			jrpc.ReplyError(w, "getResults failed", err)
			return
		}
		jrpc.ReplyOk(w, resp)
	})
}

// MasterHandlers is the server-side surface Master exposes to its Agents.
type MasterHandlers interface {
	CurrentTimeMillis() int64
	AbortRun(runID, reason string) error
}

// RegisterMasterHandlers mounts h's two endpoints on mux.
func RegisterMasterHandlers(mux *http.ServeMux, h MasterHandlers) {
	mux.HandleFunc(PathCurrentTime, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathCurrentTime, r)
		jrpc.ReplyOk(w, &CurrentTimeResponse{NowMillis: h.CurrentTimeMillis()})
	})
	mux.HandleFunc(PathAbortRun, func(w http.ResponseWriter, r *http.Request) {
		logCorrelation(PathAbortRun, r)
		req, err := jrpc.ProcessRequest[AbortRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad abort request", err)
			return
		}
		if err := h.AbortRun(req.RunID, req.Reason); err != nil {
			jrpc.ReplyError(w, fmt.Sprintf("abort of %s failed", req.RunID), err)
			return
		}
		jrpc.ReplyOk(w, &AbortResponse{})
	})
}
