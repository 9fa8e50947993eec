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
	"net/http"

	"github.com/perfharness/loadharness/jrpc"
	"github.com/perfharness/loadharness/runqueue"
)

// The daemon process is the only one with a live RunQueue/Master in memory,
// so "kill" (unlike list/delete/submit, which just touch the queue
// directory) needs its own tiny RPC, following rpcwire's request/reply
// shape rather than reusing rpcwire itself (that package is strictly the
// Master<->Agent control plane).

const pathAdminKill = "/admin/kill"

type killRequest struct {
	RunID string
}

type killResponse struct {
	jrpc.ServerReply
	Killed bool
}

// registerAdminKill mounts the daemon's kill endpoint, delegating to q's
// wired KillCurrentRun (itself wired to Master.Kill by runDaemon).
func registerAdminKill(mux *http.ServeMux, q *runqueue.RunQueue) {
	mux.HandleFunc(pathAdminKill, func(w http.ResponseWriter, r *http.Request) {
		req, err := jrpc.ProcessRequest[killRequest](r)
		if err != nil {
			jrpc.ReplyError(w, "bad kill request", err)
			return
		}
		killed := q.KillCurrentRun(req.RunID)
		jrpc.ReplyOk(w, &killResponse{Killed: killed})
	})
}

// sendAdminKill is the CLI-side call a separate "harness kill <runId>"
// invocation uses to reach the live daemon process.
func sendAdminKill(daemonURL, runID string) (bool, error) {
	dest := &jrpc.Destination{URL: daemonURL + pathAdminKill}
	resp, err := jrpc.Call[killResponse](dest, &killRequest{RunID: runID})
	if err != nil {
		return false, err
	}
	return resp.Killed, nil
}

const pathAdminExit = "/admin/exit"

type exitRequest struct{}

type exitResponse struct {
	jrpc.ServerReply
}

// registerAdminExit mounts the daemon's exit endpoint, delegating to q's
// wired Exit (itself wired to RunDaemon.Exit by runDaemon). The reply is
// sent before Exit runs since it blocks until the poll loop's current run,
// if any, finishes.
func registerAdminExit(mux *http.ServeMux, q *runqueue.RunQueue) {
	mux.HandleFunc(pathAdminExit, func(w http.ResponseWriter, r *http.Request) {
		if _, err := jrpc.ProcessRequest[exitRequest](r); err != nil {
			jrpc.ReplyError(w, "bad exit request", err)
			return
		}
		jrpc.ReplyOk(w, &exitResponse{})
		go q.Exit()
	})
}

// sendAdminExit is the CLI-side call "harness stop-daemon"/"harness exit"
// uses to reach the live daemon process.
func sendAdminExit(daemonURL string) error {
	dest := &jrpc.Destination{URL: daemonURL + pathAdminExit}
	_, err := jrpc.Call[exitResponse](dest, &exitRequest{})
	return err
}
