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

package config_test

import (
	"testing"
	"time"

	"github.com/perfharness/loadharness/config"
)

func TestStartupSlackDefault(t *testing.T) {
	if got := config.StartupSlack.Get(); got != 250*time.Millisecond {
		t.Fatalf("StartupSlack default = %v, want 250ms", got)
	}
	if config.StartupSlack.Usage() == "" {
		t.Fatalf("StartupSlack.Usage() is empty")
	}
}

func TestTunableSetOverridesDefault(t *testing.T) {
	// Construct an independent Config so this test doesn't mutate the
	// package-level default other tests may still rely on.
	c := config.New(time.Second, "example")
	if err := c.Set("5s"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := c.Get(); got != 5*time.Second {
		t.Fatalf("Get() after Set = %v, want 5s", got)
	}
}
