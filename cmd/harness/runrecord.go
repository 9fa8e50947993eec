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
	"strconv"
	"time"

	"fortio.org/log"

	"github.com/perfharness/loadharness/master"
	"github.com/perfharness/loadharness/runqueue"
)

// paramsFileName mirrors runqueue's own on-disk param file name; the two
// copies share the file's shape (Entry embedded alongside Params) rather
// than a shared exported type, since runqueue.Add is the only writer and
// this is the only reader.
const paramsFileName = "params.json"

// loadRunParams reads the run directory's parameter file RunDaemon moved
// into place, returning the opaque params map and the driver name to run
// (the "driver" key, defaulting to the run's benchmark short name).
func loadRunParams(runDir string, entry runqueue.Entry) (map[string]string, string) {
	data, err := os.ReadFile(filepath.Join(runDir, paramsFileName))
	if err != nil {
		log.Warnf("daemon: reading params for %s: %v", entry.RunID, err)
		return nil, entry.BenchShortName
	}
	var wrapper struct {
		Params map[string]string
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		log.Warnf("daemon: parsing params for %s: %v", entry.RunID, err)
		return nil, entry.BenchShortName
	}
	driver := wrapper.Params["driver"]
	if driver == "" {
		driver = entry.BenchShortName
	}
	return wrapper.Params, driver
}

func paramInt(params map[string]string, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func paramDuration(params map[string]string, key string) time.Duration {
	v, ok := params[key]
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// writeReport archives the merged report alongside the run's other
// artifacts before RunDaemon moves on to the next queued run.
func writeReport(runDir string, report *master.Report) {
	if report == nil {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Errf("daemon: marshaling report for %s: %v", report.RunID, err)
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "report.json"), data, 0o644); err != nil {
		log.Errf("daemon: writing report for %s: %v", report.RunID, err)
	}
}
