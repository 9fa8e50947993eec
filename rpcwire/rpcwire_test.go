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

package rpcwire_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fortio.org/assert"

	"github.com/perfharness/loadharness/rpcwire"
)

type fakeAgent struct {
	configured *rpcwire.ConfigureRequest
	started    bool
	stopped    bool
}

func (f *fakeAgent) Configure(req *rpcwire.ConfigureRequest) error {
	f.configured = req
	return nil
}

func (f *fakeAgent) Start(_ *rpcwire.StartRequest) error {
	f.started = true
	return nil
}

func (f *fakeAgent) StopAll(_ string) error {
	f.stopped = true
	return nil
}

func (f *fakeAgent) GetResults(runID string) (*rpcwire.GetResultsResponse, error) {
	return &rpcwire.GetResultsResponse{
		Operations: []rpcwire.OperationSummary{{Name: "op1", Success: rpcwire.OperationHistogram{Count: 3}}},
	}, nil
}

type fakeMaster struct {
	now      int64
	aborted  string
	abortErr error
}

func (m *fakeMaster) CurrentTimeMillis() int64 { return m.now }
func (m *fakeMaster) AbortRun(runID, _ string) error {
	m.aborted = runID
	return m.abortErr
}

func TestAgentHandlersRoundTrip(t *testing.T) {
	agent := &fakeAgent{}
	mux := http.NewServeMux()
	rpcwire.RegisterAgentHandlers(mux, agent)
	server := httptest.NewServer(mux)
	defer server.Close()

	c := rpcwire.New(server.URL, time.Second)
	assert.NoError(t, c.Configure(&rpcwire.ConfigureRequest{RunID: "r1", DriverName: "d1", ThreadCount: 4}), "Configure should succeed")
	if agent.configured == nil {
		t.Fatal("expected configure to reach agent")
	}
	assert.Equal(t, "r1", agent.configured.RunID, "configure should carry the run id through")

	assert.NoError(t, c.Start(&rpcwire.StartRequest{RunID: "r1", BenchStartTime: 1000}), "Start should succeed")
	assert.True(t, agent.started, "expected agent to be started")

	assert.NoError(t, c.StopAll("r1"), "StopAll should succeed")
	assert.True(t, agent.stopped, "expected agent to be stopped")

	res, err := c.GetResults("r1")
	assert.NoError(t, err, "GetResults should succeed")
	assert.Equal(t, 1, len(res.Operations), "expected exactly one operation in results")
	if len(res.Operations) == 1 {
		assert.Equal(t, "op1", res.Operations[0].Name, "unexpected operation name")
	}
}

func TestMasterHandlersRoundTrip(t *testing.T) {
	master := &fakeMaster{now: 42}
	mux := http.NewServeMux()
	rpcwire.RegisterMasterHandlers(mux, master)
	server := httptest.NewServer(mux)
	defer server.Close()

	c := rpcwire.New(server.URL, time.Second)
	now, err := c.CurrentTimeMillis()
	assert.NoError(t, err, "CurrentTimeMillis should succeed")
	assert.Equal(t, int64(42), now, "unexpected current time")

	assert.NoError(t, c.AbortRun("r1", "boom"), "AbortRun should succeed")
	assert.Equal(t, "r1", master.aborted, "expected abort to reach master for r1")
}

func TestUnknownPathReturnsNotFound(t *testing.T) {
	agent := &fakeAgent{}
	mux := http.NewServeMux()
	rpcwire.RegisterAgentHandlers(mux, agent)
	server := httptest.NewServer(mux)
	defer server.Close()

	// Hitting an unknown path should not panic and should 404.
	resp, err := http.Get(server.URL + "/does-not-exist")
	assert.NoError(t, err, "unexpected transport error")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "expected 404")
	if agent.configured != nil {
		t.Fatalf("unrelated request should not have reached Configure")
	}
}
