// Package fetch provides the network side of the offline cache: a Fetcher
// that forwards a request to an origin server and returns its response as is.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher performs a network fetch for a request.
//
// Implementations return the response unchanged, whatever its status; only
// transport failures are reported as errors.
type Fetcher interface {
	Fetch(ctx context.Context, req *nethttp.Request) (*nethttp.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *nethttp.Request) (*nethttp.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *nethttp.Request) (*nethttp.Response, error) {
	return f(ctx, req)
}

// hopHeaders are connection-scoped headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Origin fetches requests from a fixed origin server.
//
// The request URI of each incoming request is resolved against the origin
// base URL, so both absolute paths ("/styles.css") and server-side requests
// can be forwarded.
type Origin struct {
	base    *url.URL
	client  *nethttp.Client
	headers nethttp.Header
	timeout time.Duration
}

var _ Fetcher = (*Origin)(nil)

// Option configures an Origin.
type Option func(*Origin)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(o *Origin) {
		o.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(o *Origin) {
		if headers == nil {
			return
		}
		o.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(o *Origin) {
		if o.headers == nil {
			o.headers = make(nethttp.Header)
		}
		o.headers.Set(key, value)
	}
}

// WithTimeout bounds the wait for response headers and body of each fetch.
// Zero, the default, waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(o *Origin) {
		o.timeout = d
	}
}

// NewOrigin creates a Fetcher for the origin at baseURL.
func NewOrigin(baseURL string, opts ...Option) (*Origin, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("origin url %q: scheme must be http or https", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("origin url %q: missing host", baseURL)
	}
	o := &Origin{
		base:   base,
		client: nethttp.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.client == nil {
		o.client = nethttp.DefaultClient
	}
	if o.timeout < 0 {
		return nil, errors.New("fetch timeout must be >= 0")
	}
	return o, nil
}

// URL returns the absolute origin URL for a request URI.
func (o *Origin) URL(uri string) (*url.URL, error) {
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse request uri %q: %w", uri, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("request uri %q: must be origin relative", uri)
	}
	u := *o.base
	u.Path = strings.TrimSuffix(o.base.Path, "/") + ref.Path
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return &u, nil
}

// Fetch forwards req to the origin and returns the origin's response.
//
// Method, body and end-to-end headers of req are forwarded; hop-by-hop
// headers are dropped. The response is returned verbatim, including error
// statuses. The caller must close the response body.
func (o *Origin) Fetch(ctx context.Context, req *nethttp.Request) (*nethttp.Response, error) {
	target, err := o.URL(req.URL.RequestURI())
	if err != nil {
		return nil, err
	}

	cancel := context.CancelFunc(func() {})
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	}

	out, err := nethttp.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		cancel()
		return nil, err
	}
	out.ContentLength = req.ContentLength
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = make(nethttp.Header)
	}
	StripHopHeaders(out.Header)
	for key, values := range o.headers {
		out.Header.Del(key)
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}

	resp, err := o.client.Do(out)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// StripHopHeaders removes connection-scoped headers from h.
func StripHopHeaders(h nethttp.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// cancelReadCloser releases the fetch deadline once the body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
