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

package agentthread

import "sync"

// State is a thread's position in the lifecycle:
// NotStarted -> Initializing -> [PreRun] -> Running -> [PostRun] -> Ended.
// PreRun/PostRun only apply to thread 0: it alone runs the
// once-before/once-after methods.
type State int

const (
	NotStarted State = iota
	Initializing
	PreRun
	Running
	PostRun
	Ended
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Initializing:
		return "Initializing"
	case PreRun:
		return "PreRun"
	case Running:
		return "Running"
	case PostRun:
		return "PostRun"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// StateWatcher publishes a thread's current State and lets observers block
// until a target state is reached, replacing a polled Thread.getState()
// loop with an event-based observer. Broadcast-on-change is implemented
// with a replaced channel, the standard Go idiom for a one-shot-per-
// transition signal that any number of goroutines can wait on
// simultaneously.
type StateWatcher struct {
	mu      sync.Mutex
	current State
	changed chan struct{}
}

// NewStateWatcher creates a watcher starting at NotStarted.
func NewStateWatcher() *StateWatcher {
	return &StateWatcher{changed: make(chan struct{})}
}

// Set moves the watcher to s and wakes every goroutine blocked in Wait.
func (w *StateWatcher) Set(s State) {
	w.mu.Lock()
	w.current = s
	ch := w.changed
	w.changed = make(chan struct{})
	w.mu.Unlock()
	close(ch)
}

// Current returns the state as of the last Set.
func (w *StateWatcher) Current() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Wait blocks until the watcher reaches at least target, or stop fires.
// Returns the state actually observed (>= target unless interrupted).
func (w *StateWatcher) Wait(target State, stop <-chan struct{}) State {
	for {
		w.mu.Lock()
		cur := w.current
		ch := w.changed
		w.mu.Unlock()
		if cur >= target {
			return cur
		}
		select {
		case <-ch:
		case <-stop:
			return cur
		}
	}
}
