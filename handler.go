package precache

import (
	"io"
	"net/http"

	"github.com/meigma/precache/fetch"
)

var _ http.Handler = (*Worker)(nil)

// ServeHTTP answers r through Fetch and writes the response to rw.
//
// A network failure on a miss is reported as 502 Bad Gateway with the error
// text; no substitute content is served.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	resp, err := w.Fetch(r.Context(), r)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	header := rw.Header()
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}
	fetch.StripHopHeaders(header)
	rw.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(rw, resp.Body); err != nil {
		w.log.V(1).Info("copy response body", "url", r.URL.RequestURI(), "error", err.Error())
	}
}
