package store

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Response is a stored HTTP response together with the identity of the
// request that produced it.
type Response struct {
	// Method is the request method. Only GET responses are stored.
	Method string

	// URL is the request URI (path plus optional query) used as the lookup key.
	URL string

	// StatusCode and Status mirror http.Response.
	StatusCode int
	Status     string

	// Header holds the response headers.
	Header http.Header

	// Body holds the complete response body.
	Body []byte

	// StoredAt is when the response was written to the store.
	StoredAt time.Time
}

// Key returns the lookup key of the response.
func (r *Response) Key() string {
	return Key(r.Method, r.URL)
}

// Validate reports whether the response can be stored.
func (r *Response) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if r.Method != http.MethodGet {
		return fmt.Errorf("%w: method %q is not cacheable", ErrInvalidResponse, r.Method)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidResponse)
	}
	if r.StatusCode < 100 || r.StatusCode > 999 {
		return fmt.Errorf("%w: status code %d", ErrInvalidResponse, r.StatusCode)
	}
	return nil
}

// HTTPResponse converts the stored response into an *http.Response for req.
//
// Each call returns an independent body reader, so the result may be
// consumed without affecting the stored entry.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	status := r.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode))
	}
	return &http.Response{
		Status:        status,
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// FromHTTP reads resp to completion and returns it as a storable Response.
//
// The body of resp is consumed and closed.
func FromHTTP(req *http.Request, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	// The body is stored decoded and whole; the length is recomputed on replay.
	header.Del("Content-Length")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &Response{
		Method:     req.Method,
		URL:        req.URL.RequestURI(),
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     header,
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// Key returns the lookup key for a method and request URI.
func Key(method, uri string) string {
	return method + " " + uri
}

// RequestKey returns the lookup key for req.
func RequestKey(req *http.Request) string {
	return Key(req.Method, req.URL.RequestURI())
}

// Matchable reports whether req can be answered from a store.
func Matchable(req *http.Request) bool {
	return req != nil && req.URL != nil && req.Method == http.MethodGet
}
