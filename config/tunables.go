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

package config

import "time"

// Tunables that a caller embedding this module as a library (rather than
// running cmd/harness as-is) may want to override before cmd/harness's own
// flags are parsed, per this package's stated purpose of letting library
// code set defaults without forcing a flag to exist for every one of them.

// StartupSlack is the default headroom master.New adds past the moment
// every Agent's Configure call returns, before computing benchStartTime.
var StartupSlack = New(250*time.Millisecond, "headroom added past Configure completion before computing benchStartTime")

// AbortTimeout bounds every Master->Agent RPC, including the StopAll calls
// an abort fans out; also reused as the per-RPC timeout for the rest of
// the Master->Agent surface since both share one rpcwire.Client per Agent.
var AbortTimeout = New(5*time.Second, "per-Agent RPC timeout")

// RunDaemonPollInterval is RunDaemon's fallback poll period, used when
// fsnotify isn't watching the queue directory or misses an event.
var RunDaemonPollInterval = New(2*time.Second, "RunDaemon's fallback poll interval")
