// Package admin provides the scrapable metrics/pprof/readiness server every
// daemon binary in this module runs alongside its public HTTP surface.
package admin

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness is a process-wide gate flipped once startup dependencies (bus
// publisher, schema registry, disk queue, ...) are usable. The zero value
// reports not-ready.
type Readiness struct {
	ready atomic.Bool
}

// Set marks the process ready (or not).
func (r *Readiness) Set(ok bool) { r.ready.Store(ok) }

// Ready reports whether the process has been marked ready.
func (r *Readiness) Ready() bool { return r.ready.Load() }

type handler struct {
	promHandler http.Handler
	enablePprof bool
	ready       *Readiness
}

// NewServer returns an initialized `http.Server`, configured to listen on an
// address, exposing /ping, /ready, /metrics and, if enablePprof, the
// standard net/http/pprof endpoints.
func NewServer(addr string, enablePprof bool, ready *Readiness) *http.Server {
	h := &handler{
		promHandler: promhttp.Handler(),
		enablePprof: enablePprof,
		ready:       ready,
	}

	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	debugPathPrefix := "/debug/pprof/"
	if h.enablePprof && strings.HasPrefix(req.URL.Path, debugPathPrefix) {
		switch req.URL.Path {
		case fmt.Sprintf("%scmdline", debugPathPrefix):
			pprof.Cmdline(w, req)
		case fmt.Sprintf("%sprofile", debugPathPrefix):
			pprof.Profile(w, req)
		case fmt.Sprintf("%strace", debugPathPrefix):
			pprof.Trace(w, req)
		case fmt.Sprintf("%ssymbol", debugPathPrefix):
			pprof.Symbol(w, req)
		default:
			pprof.Index(w, req)
		}
		return
	}
	switch req.URL.Path {
	case "/metrics":
		h.promHandler.ServeHTTP(w, req)
	case "/ping":
		h.servePing(w)
	case "/ready":
		h.serveReady(w)
	default:
		http.NotFound(w, req)
	}
}

func (h *handler) servePing(w http.ResponseWriter) {
	w.Write([]byte("pong\n"))
}

func (h *handler) serveReady(w http.ResponseWriter) {
	if h.ready != nil && !h.ready.Ready() {
		http.Error(w, "not ready\n", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok\n"))
}
