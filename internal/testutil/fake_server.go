package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type Call struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header
}

// FakeServer stands in for the external analysis/training server. Handlers
// are registered per method and path; every request is recorded in arrival
// order.
type FakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    []Call
	handlers map[string]http.HandlerFunc
}

func NewFakeServer(t *testing.T) *FakeServer {
	t.Helper()

	f := &FakeServer{handlers: make(map[string]http.HandlerFunc)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *FakeServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: r.Method, Path: r.URL.Path, Body: body, Header: r.Header.Clone()})
	handler, ok := f.handlers[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	handler(w, r)
}

func (f *FakeServer) Handle(method, path string, handler http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = handler
}

// JSON registers a handler replying with status and body. A string or []byte
// body is written verbatim, anything else is json encoded.
func (f *FakeServer) JSON(method, path string, status int, body any) {
	f.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch b := body.(type) {
	case string:
		_, _ = io.WriteString(w, b)
	case []byte:
		_, _ = w.Write(b)
	default:
		_ = json.NewEncoder(w).Encode(b)
	}
}

func (f *FakeServer) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeServer) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		paths = append(paths, c.Path)
	}
	return paths
}

func (f *FakeServer) CallCount(path string) int {
	n := 0
	for _, p := range f.Paths() {
		if p == path {
			n++
		}
	}
	return n
}

// LastBody decodes the body of the most recent request to path into out.
func (f *FakeServer) LastBody(t *testing.T, path string, out any) {
	t.Helper()
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Path == path {
			if err := json.Unmarshal(calls[i].Body, out); err != nil {
				t.Fatalf("error decoding request body for %s: %v", path, err)
			}
			return
		}
	}
	t.Fatalf("no request recorded for %s", path)
}
