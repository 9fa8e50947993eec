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

// Package runqueue implements a FIFO of pending runs with single-run
// admission and sequence-id minting, plus the RunDaemon that drains it one
// run at a time.
package runqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"fortio.org/log"

	"github.com/perfharness/loadharness/runmodel"
)

// QueueStore replaces a process-wide file lock + sequence file with a
// typed abstraction: WithLock and ReadToken/WriteToken, backed here by an
// in-process mutex. This harness runs one RunQueue per process, so a
// lockfile buys nothing a mutex doesn't already give within that process.
type QueueStore interface {
	WithLock(fn func() error) error
	ReadToken() (runmodel.SequenceToken, error)
	WriteToken(t runmodel.SequenceToken) error
	QueueDir() string
	ActiveDir() string
	OutputDir() string
}

// FileStore is the on-disk QueueStore: a queue directory of
// "<bench>.<seq>" subdirectories, an active-run directory RunDaemon moves
// the picked run into, an output directory of archived completed runs, and
// a sequence file holding the next token to mint.
type FileStore struct {
	mu         sync.Mutex
	queueDir   string
	activeDir  string
	outputDir  string
	seqFile    string
}

// NewFileStore creates the three directories if missing and returns a
// FileStore rooted at them.
func NewFileStore(queueDir, activeDir, outputDir, seqFile string) (*FileStore, error) {
	for _, d := range []string{queueDir, activeDir, outputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("runqueue: creating %s: %w", d, err)
		}
	}
	return &FileStore{queueDir: queueDir, activeDir: activeDir, outputDir: outputDir, seqFile: seqFile}, nil
}

func (s *FileStore) WithLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// ReadToken reads the sequence file; a missing or malformed file resets to
// InitialSequenceToken and logs a warning.
func (s *FileStore) ReadToken() (runmodel.SequenceToken, error) {
	data, err := os.ReadFile(s.seqFile)
	if err != nil {
		if os.IsNotExist(err) {
			return runmodel.InitialSequenceToken, nil
		}
		log.Warnf("runqueue: reading sequence file %s: %v, resetting", s.seqFile, err)
		return runmodel.InitialSequenceToken, nil
	}
	tok, err := runmodel.ParseSequenceToken(strings.TrimSpace(string(data)))
	if err != nil {
		log.Warnf("runqueue: sequence file %s corrupt: %v, resetting to (1,'A')", s.seqFile, err)
		return runmodel.InitialSequenceToken, nil
	}
	return tok, nil
}

// WriteToken atomically replaces the sequence file's content via a
// write-then-rename so a crash mid-write never leaves a half-written file.
func (s *FileStore) WriteToken(t runmodel.SequenceToken) error {
	tmp := s.seqFile + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("runqueue: writing sequence file: %w", err)
	}
	return os.Rename(tmp, s.seqFile)
}

func (s *FileStore) QueueDir() string  { return s.queueDir }
func (s *FileStore) ActiveDir() string { return s.activeDir }
func (s *FileStore) OutputDir() string { return s.outputDir }

// dirExists reports whether path names an existing directory.
func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileExistsAnywhere(name string, dirs ...string) bool {
	for _, d := range dirs {
		if _, err := os.Stat(filepath.Join(d, name)); err == nil {
			return true
		}
	}
	return false
}
