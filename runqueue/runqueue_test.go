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

package runqueue_test

import (
	"path/filepath"
	"testing"

	"github.com/perfharness/loadharness/runmodel"
	"github.com/perfharness/loadharness/runqueue"
)

func newStore(t *testing.T) *runqueue.FileStore {
	t.Helper()
	root := t.TempDir()
	store, err := runqueue.NewFileStore(
		filepath.Join(root, "queue"),
		filepath.Join(root, "active"),
		filepath.Join(root, "output"),
		filepath.Join(root, "sequence"),
	)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestSequenceRoll(t *testing.T) {
	store := newStore(t)
	tok, err := runmodel.ParseSequenceToken("1:z")
	if err != nil {
		t.Fatalf("ParseSequenceToken: %v", err)
	}
	if err := store.WriteToken(tok); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	q := runqueue.New(store)

	id, err := q.Add("alice", "X", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "X.1z" {
		t.Fatalf("expected X.1z, got %s", id)
	}
	id, err = q.Add("alice", "X", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != "X.2A" {
		t.Fatalf("expected X.2A, got %s", id)
	}
	prev, ok := q.GetValidPrevRun("X")
	if !ok || prev != "X.2A" {
		t.Fatalf("expected X.2A as valid prev run, got %q ok=%v", prev, ok)
	}
}

func TestQueueOrdering(t *testing.T) {
	store := newStore(t)
	q := runqueue.New(store)
	mustAdd(t, q, "Y", "1A")
	mustAdd(t, q, "X", "1B")
	// The sequence token is shared by all benches; reset it so a second
	// run suffixed 1A exists and the mtime tie-break is exercised.
	if err := store.WriteToken(runmodel.InitialSequenceToken); err != nil {
		t.Fatalf("WriteToken: %v", err)
	}
	mustAdd(t, q, "X", "1A")

	entries, err := q.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	suffixes := []string{suffixOf(entries[0].RunID), suffixOf(entries[1].RunID), suffixOf(entries[2].RunID)}
	want := []string{"1A", "1A", "1B"}
	for i := range want {
		if suffixes[i] != want[i] {
			t.Fatalf("entry %d: expected suffix %s, got %s (full: %+v)", i, want[i], suffixes[i], entries)
		}
	}
	if entries[0].BenchShortName != "Y" {
		t.Fatalf("expected first 1A to be Y (insertion order), got %s", entries[0].BenchShortName)
	}
}

func TestDeletePendingRun(t *testing.T) {
	store := newStore(t)
	q := runqueue.New(store)
	id, err := q.Add("bob", "B", nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	removed, err := q.Delete(id)
	if err != nil || !removed {
		t.Fatalf("Delete: removed=%v err=%v", removed, err)
	}
	entries, _ := q.List()
	if len(entries) != 0 {
		t.Fatalf("expected empty queue after delete, got %+v", entries)
	}
}

// helpers that reach into runqueue package internals via its exported API
// only; we don't need reflection since suffix composition is deterministic.

func mustAdd(t *testing.T, q *runqueue.RunQueue, bench, wantSuffix string) {
	t.Helper()
	id, err := q.Add("submitter", bench, nil)
	if err != nil {
		t.Fatalf("Add(%s): %v", bench, err)
	}
	if suffixOf(id) != wantSuffix {
		t.Fatalf("Add(%s): expected suffix %s, got id %s", bench, wantSuffix, id)
	}
}

func suffixOf(runID string) string {
	i := len(runID) - 1
	for i >= 0 && runID[i] != '.' {
		i--
	}
	return runID[i+1:]
}

