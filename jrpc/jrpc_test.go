// Copyright 2022 Fortio Authors.
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

package jrpc_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perfharness/loadharness/jrpc"
)

func TestDebugSummary(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"12345678", "12345678"},
		{"123456789", "123456789"},
		{"1234567890", "1234567890"},
		{"12345678901", "12345678901"},
		{"123456789012", "12: 1234...9012"},
	}
	for _, tst := range tests {
		if actual := jrpc.DebugSummary([]byte(tst.input), 8); actual != tst.expected {
			t.Errorf("Got '%s', expected '%s' for DebugSummary(%q)", actual, tst.expected, tst.input)
		}
	}
}

type Request struct {
	SomeInt    int
	SomeString []string
}

type Response struct {
	jrpc.ServerReply
	InputInt            int
	ConcatenatedStrings string
}

func TestJRPCCall(t *testing.T) {
	prev := jrpc.SetCallTimeout(5 * time.Second)
	defer jrpc.SetCallTimeout(prev)

	mux := http.NewServeMux()
	mux.HandleFunc("/test-api", func(w http.ResponseWriter, r *http.Request) {
		req, err := jrpc.ProcessRequest[Request](r)
		if err != nil {
			jrpc.ReplyError(w, "request error", err)
			return
		}
		if req.SomeInt == -8 {
			jrpc.ReplyServerError(w, &Response{ServerReply: jrpc.ServerReply{Error: true, Message: "simulated server error"}})
			return
		}
		resp := Response{InputInt: req.SomeInt}
		for _, s := range req.SomeString {
			resp.ConcatenatedStrings += s
		}
		jrpc.ReplyOk(w, &resp)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	req := Request{42, []string{"ab", "cd"}}
	res, err := jrpc.CallURL[Response](server.URL+"/test-api", &req)
	if err != nil {
		t.Fatalf("failed Call: %v", err)
	}
	if res.Error {
		t.Errorf("response unexpectedly marked as failed: %+v", res)
	}
	if res.InputInt != 42 {
		t.Errorf("response doesn't contain expected int: %+v", res)
	}
	if res.ConcatenatedStrings != "abcd" {
		t.Errorf("response doesn't contain expected string: %+v", res)
	}

	req.SomeInt = -8
	res, err = jrpc.CallURL[Response](server.URL+"/test-api", &req)
	if err == nil {
		t.Errorf("expected error for server error reply")
	}
	var fe *jrpc.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", fe.Code)
	}
}

func TestSendBadURL(t *testing.T) {
	badURL := "bad\x01url"
	_, _, err := jrpc.FetchURL(badURL)
	if err == nil {
		t.Errorf("expected error, got nil")
	}
}

func TestSerializeServerReply(t *testing.T) {
	o := &jrpc.ServerReply{}
	b, err := jrpc.Serialize(o)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(b) != `{}` {
		t.Errorf("expected {}, got %s", b)
	}
	o = jrpc.NewErrorReply("a message", errors.New("an error"))
	b, err = jrpc.Serialize(o)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	expected := `{"error":true,"message":"a message","exception":"an error"}`
	if string(b) != expected {
		t.Errorf("expected %s, got %s", expected, b)
	}
}

func TestHandleCallError(t *testing.T) {
	body := errReader{}
	r, _ := http.NewRequest(http.MethodGet, "/", body)
	_, err := jrpc.ProcessRequest[jrpc.ServerReply](r)
	if err == nil {
		t.Errorf("expected error, got nil")
	}
}

type errReader struct{}

func (errReader) Read(_ []byte) (int, error) { return 0, fmt.Errorf("simulated IO error") }
