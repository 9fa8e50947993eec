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

package runqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/perfharness/loadharness/runmodel"
)

const paramFileName = "params.json"

// Entry is one queued or active run's externally visible description, as
// returned by List.
type Entry struct {
	RunID          string
	BenchShortName string
	Submitter      string
	SubmitTime     time.Time
}

// suffix returns the "<seqInt><seqChar>" part of a run id, used to order
// list() and to pick the next run: the sort is lexical over the two-part
// suffix after the benchmark-name dot.
func suffix(runID string) string {
	i := strings.LastIndex(runID, ".")
	if i < 0 {
		return runID
	}
	return runID[i+1:]
}

// RunQueue is a value-type queue constructed by the harness and passed
// explicitly; no global instance is used.
type RunQueue struct {
	store QueueStore

	mu         sync.Mutex
	currentRun string        // run id RunDaemon has most recently picked, "" if idle
	killFunc   func(runID string) bool // set by the harness to wire KillCurrentRun to Master.Kill
	exitFunc   func()                  // set by the harness to wire Exit to RunDaemon.Exit
}

// New constructs a RunQueue over store.
func New(store QueueStore) *RunQueue {
	return &RunQueue{store: store}
}

// SetKillFunc wires KillCurrentRun to the harness's abort mechanism
// (typically Master.Kill); nil disables killing.
func (q *RunQueue) SetKillFunc(f func(runID string) bool) {
	q.mu.Lock()
	q.killFunc = f
	q.mu.Unlock()
}

// KillCurrentRun aborts runID if it is the currently executing run,
// returning false if runID doesn't match or no kill function is wired.
func (q *RunQueue) KillCurrentRun(runID string) bool {
	q.mu.Lock()
	current, f := q.currentRun, q.killFunc
	q.mu.Unlock()
	if f == nil || current == "" || current != runID {
		return false
	}
	return f(runID)
}

// SetExitFunc wires Exit to the harness's shutdown mechanism, typically
// RunDaemon.Exit; nil makes Exit a no-op.
func (q *RunQueue) SetExitFunc(f func()) {
	q.mu.Lock()
	q.exitFunc = f
	q.mu.Unlock()
}

// Exit stops RunDaemon's poll loop, waiting for the wired function to
// return (RunDaemon.Exit blocks until any run in progress finishes and the
// loop goroutine exits). A no-op if no exit function is wired.
func (q *RunQueue) Exit() {
	q.mu.Lock()
	f := q.exitFunc
	q.mu.Unlock()
	if f != nil {
		f()
	}
}

// Add admits a run: mints a run id, creates its directory and parameter
// file, then advances the sequence token.
func (q *RunQueue) Add(submitter, benchShortName string, params map[string]string) (string, error) {
	var runID string
	err := q.store.WithLock(func() error {
		tok, err := q.store.ReadToken()
		if err != nil {
			return err
		}
		// Collision detection & re-mint retry: a prior crash between
		// "mint token" and "advance token" can leave the sequence file
		// pointing at an already-used token.
		for {
			candidate := runmodel.MakeRunID(benchShortName, tok)
			dir := filepath.Join(q.store.QueueDir(), candidate)
			if !dirExists(dir) {
				if err := q.createRunDir(dir, submitter, benchShortName, params); err != nil {
					return err
				}
				// Advance the token before releasing the lock: advancing
				// after release would let a second Add see the same token
				// and mint a duplicate run id.
				if err := q.store.WriteToken(tok.Successor()); err != nil {
					return fmt.Errorf("runqueue: advancing sequence token: %w", err)
				}
				runID = candidate
				return nil
			}
			tok = tok.Successor()
		}
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

func (q *RunQueue) createRunDir(dir, submitter, benchShortName string, params map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("runqueue: creating run directory: %w", err)
	}
	entry := Entry{
		RunID:          filepath.Base(dir),
		BenchShortName: benchShortName,
		Submitter:      submitter,
		SubmitTime:     time.Now(),
	}
	meta, err := json.Marshal(struct {
		Entry
		Params map[string]string
	}{entry, params})
	if err != nil {
		return fmt.Errorf("runqueue: marshaling parameters: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, paramFileName), meta, 0o644)
}

// Delete removes a not-yet-started run from the queue, returning false if
// it doesn't exist there (already started, or never existed).
func (q *RunQueue) Delete(runID string) (bool, error) {
	var removed bool
	err := q.store.WithLock(func() error {
		dir := filepath.Join(q.store.QueueDir(), runID)
		if !dirExists(dir) {
			return nil
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("runqueue: deleting %s: %w", runID, err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// List returns pending runs ordered by suffix, ties broken by insertion
// (directory mtime) order.
func (q *RunQueue) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(q.store.QueueDir())
	if err != nil {
		return nil, fmt.Errorf("runqueue: listing queue: %w", err)
	}
	type withTime struct {
		Entry
		mtime time.Time
	}
	entries := make([]withTime, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		e, mtime, err := q.readEntry(de.Name())
		if err != nil {
			continue
		}
		entries = append(entries, withTime{e, mtime})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := suffix(entries[i].RunID), suffix(entries[j].RunID)
		if si != sj {
			return si < sj
		}
		return entries[i].mtime.Before(entries[j].mtime)
	})
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.Entry
	}
	return out, nil
}

func (q *RunQueue) readEntry(runID string) (Entry, time.Time, error) {
	dir := filepath.Join(q.store.QueueDir(), runID)
	fi, err := os.Stat(dir)
	if err != nil {
		return Entry{}, time.Time{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, paramFileName))
	if err != nil {
		return Entry{RunID: runID}, fi.ModTime(), nil
	}
	var wrapper struct {
		Entry
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return Entry{RunID: runID}, fi.ModTime(), nil
	}
	return wrapper.Entry, fi.ModTime(), nil
}

// GetCurrentRunId returns the run id RunDaemon is currently executing, or
// "" if idle.
func (q *RunQueue) GetCurrentRunId() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentRun
}

func (q *RunQueue) setCurrentRunId(runID string) {
	q.mu.Lock()
	q.currentRun = runID
	q.mu.Unlock()
}

// GetValidPrevRun returns the most recently minted run id for bench,
// composed from the current token's predecessor, iff its parameter file
// still exists in either the queue or output directory.
func (q *RunQueue) GetValidPrevRun(bench string) (string, bool) {
	tok, err := q.store.ReadToken()
	if err != nil {
		return "", false
	}
	prev, ok := tok.Predecessor()
	if !ok {
		return "", false
	}
	runID := runmodel.MakeRunID(bench, prev)
	if fileExistsAnywhere(filepath.Join(runID, paramFileName), q.store.QueueDir(), q.store.OutputDir()) {
		return runID, true
	}
	return "", false
}
