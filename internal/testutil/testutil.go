package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrUnreachable is returned by MockFetcher for paths marked unreachable.
var ErrUnreachable = errors.New("testutil: host unreachable")

// MockResponse is a canned origin response.
type MockResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// MockFetcher is an in-memory origin that counts every fetch.
//
// Paths without a canned response answer 404. It is safe for concurrent use.
type MockFetcher struct {
	mu          sync.Mutex
	responses   map[string]MockResponse
	unreachable map[string]bool
	calls       map[string]int

	total atomic.Int64

	// Block, if set, is waited on before each fetch returns.
	Block chan struct{}
}

// NewMockFetcher returns a fetcher serving the given bodies with status 200.
func NewMockFetcher(bodies map[string]string) *MockFetcher {
	f := &MockFetcher{
		responses:   make(map[string]MockResponse, len(bodies)),
		unreachable: make(map[string]bool),
		calls:       make(map[string]int),
	}
	for path, body := range bodies {
		f.Set(path, MockResponse{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       []byte(body),
		})
	}
	return f
}

// Set installs a canned response for path.
func (f *MockFetcher) Set(path string, resp MockResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = resp
	delete(f.unreachable, path)
}

// Unreachable makes fetches of path fail with ErrUnreachable.
func (f *MockFetcher) Unreachable(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[path] = true
}

// Fetch serves req from the canned responses.
func (f *MockFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	uri := req.URL.RequestURI()
	f.total.Add(1)

	f.mu.Lock()
	f.calls[uri]++
	resp, ok := f.responses[uri]
	down := f.unreachable[uri]
	f.mu.Unlock()

	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if down {
		return nil, ErrUnreachable
	}
	if !ok {
		resp = MockResponse{StatusCode: http.StatusNotFound, Body: []byte("not found")}
	}
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	return &http.Response{
		Status:        strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}

// Calls returns the number of fetches of uri.
func (f *MockFetcher) Calls(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[uri]
}

// Total returns the number of fetches of any uri.
func (f *MockFetcher) Total() int {
	return int(f.total.Load())
}

// Reset clears the call counters.
func (f *MockFetcher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
	f.total.Store(0)
}
