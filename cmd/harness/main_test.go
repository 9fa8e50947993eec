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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/perfharness/loadharness/runqueue"
)

func TestAgentURLList(t *testing.T) {
	var l agentURLList
	if err := l.Set("http://a"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := l.Set("http://b"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := l.String(); got != "http://a,http://b" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]string{"threads": "4", "rampup": "2s", "bogus": "nope"}
	if got := paramInt(params, "threads", 1); got != 4 {
		t.Fatalf("paramInt = %d, want 4", got)
	}
	if got := paramInt(params, "missing", 9); got != 9 {
		t.Fatalf("paramInt default = %d, want 9", got)
	}
	if got := paramInt(params, "bogus", 9); got != 9 {
		t.Fatalf("paramInt on unparsable = %d, want default 9", got)
	}
	if got := paramDuration(params, "rampup"); got != 2*time.Second {
		t.Fatalf("paramDuration = %v, want 2s", got)
	}
	if got := paramDuration(params, "missing"); got != 0 {
		t.Fatalf("paramDuration default = %v, want 0", got)
	}
}

func TestLoadRunParams(t *testing.T) {
	dir := t.TempDir()
	entry := runqueue.Entry{RunID: "bench.1A", BenchShortName: "bench"}
	data, err := json.Marshal(struct {
		runqueue.Entry
		Params map[string]string
	}{entry, map[string]string{"driver": "sleep", "threads": "2"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, paramsFileName), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	params, driver := loadRunParams(dir, entry)
	if driver != "sleep" {
		t.Fatalf("driver = %q, want sleep", driver)
	}
	if params["threads"] != "2" {
		t.Fatalf("params[threads] = %q, want 2", params["threads"])
	}
}

func TestLoadRunParamsMissingFile(t *testing.T) {
	dir := t.TempDir()
	entry := runqueue.Entry{RunID: "bench.1A", BenchShortName: "bench"}
	_, driver := loadRunParams(dir, entry)
	if driver != "bench" {
		t.Fatalf("driver = %q, want fallback to BenchShortName", driver)
	}
}
