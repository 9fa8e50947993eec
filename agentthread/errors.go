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

import "fmt"

// FatalError signals that the run cannot continue: raised by user driver
// code, or by the core's own timing validation / trigger-time / transport
// checks. Once logged, Logged is set so the error doesn't get logged a
// second time as it unwinds.
type FatalError struct {
	Cause  error
	Logged bool
}

func (f *FatalError) Error() string {
	if f.Cause == nil {
		return "fatal error"
	}
	return f.Cause.Error()
}

func (f *FatalError) Unwrap() error { return f.Cause }

// NewFatalError wraps an ordinary error (or creates one from a message) as
// fatal.
func NewFatalError(format string, args ...interface{}) *FatalError {
	return &FatalError{Cause: fmt.Errorf(format, args...)}
}

// WrapFatal wraps err as fatal, or returns nil if err is nil.
func WrapFatal(err error) *FatalError {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FatalError); ok {
		return fe
	}
	return &FatalError{Cause: err}
}
