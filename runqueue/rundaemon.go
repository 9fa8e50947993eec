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
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"fortio.org/log"
)

// Executor runs one admitted run to completion; RunDaemon calls it
// synchronously so only one run executes at a time (spec: "RunDaemon is a
// single long-running worker").
type Executor func(entry Entry, runDir string) (aborted bool)

// RunDaemon drains RunQueue one run at a time, woken by an fsnotify watch
// on the queue directory rather than pure polling (spec: "RunDaemon polls
// (or is signaled by add)"); a slow poll ticker is kept as a fallback for
// platforms/filesystems where fsnotify misses events (e.g. some network
// filesystems), grounded on periodic.Aborter's stop-channel idiom for
// clean shutdown.
type RunDaemon struct {
	queue    *RunQueue
	exec     Executor
	pollEvery time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewRunDaemon creates a daemon that will call exec for each picked run.
// pollEvery is the fallback poll interval; 0 selects a 2s default.
func NewRunDaemon(q *RunQueue, exec Executor, pollEvery time.Duration) *RunDaemon {
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	return &RunDaemon{queue: q, exec: exec, pollEvery: pollEvery, stop: make(chan struct{}), done: make(chan struct{})}
}

// Run is the daemon's main loop; intended to run in its own goroutine.
// Returns when Exit is called.
func (d *RunDaemon) Run() {
	defer close(d.done)
	watcher, err := fsnotify.NewWatcher()
	var events <-chan fsnotify.Event
	if err != nil {
		log.Warnf("rundaemon: fsnotify unavailable (%v), falling back to polling only", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(d.queue.store.QueueDir()); err != nil {
			log.Warnf("rundaemon: watching queue directory: %v", err)
		}
		events = watcher.Events
	}

	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for {
		d.drainOne()
		select {
		case <-d.stop:
			return
		case <-events:
			// coalesce: fall through to next drainOne immediately.
		case <-ticker.C:
		}
	}
}

// drainOne picks and executes at most one run if any is pending.
func (d *RunDaemon) drainOne() {
	entries, err := d.queue.List()
	if err != nil {
		log.Errf("rundaemon: listing queue: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	picked := entries[0]
	runDir, ok := d.claim(picked.RunID)
	if !ok {
		return
	}
	d.queue.setCurrentRunId(picked.RunID)
	defer d.queue.setCurrentRunId("")
	d.exec(picked, runDir)
	// Archive the finished run in the output directory.
	if err := os.Rename(runDir, filepath.Join(d.queue.store.OutputDir(), picked.RunID)); err != nil {
		log.Errf("rundaemon: archiving %s: %v", picked.RunID, err)
	}
}

// claim moves picked's directory from the queue to the active-run
// location under the queue lock, releasing it before execution begins
// (spec: "the lock is released before the long-running execution begins").
func (d *RunDaemon) claim(runID string) (string, bool) {
	var dst string
	var ok bool
	_ = d.queue.store.WithLock(func() error {
		src := filepath.Join(d.queue.store.QueueDir(), runID)
		if !dirExists(src) {
			return nil
		}
		dst = filepath.Join(d.queue.store.ActiveDir(), runID)
		if err := os.Rename(src, dst); err != nil {
			log.Errf("rundaemon: moving %s to active: %v", runID, err)
			return nil
		}
		ok = true
		return nil
	})
	return dst, ok
}

// Exit stops the daemon after its current run (if any) finishes.
func (d *RunDaemon) Exit() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}
