package bouncer

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/pkg/httputil"
)

// StatQueued is tallied for every upload accepted onto the disk queue.
const StatQueued = "queued"

// Server is the Bouncer's public HTTP surface: the same upload path shape
// as the Gateway, but unconditionally queuing the raw body for later
// forwarding instead of validating it inline.
type Server struct {
	queue  *Queue
	stats  *stats.Collector
	router *httprouter.Router

	maxBodyBytes int64
}

// New wires a Bouncer server appending accepted uploads to queue.
func New(queue *Queue, st *stats.Collector, maxBodyBytes int64) *Server {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 1 << 20
	}
	s := &Server{queue: queue, stats: st, router: httprouter.New(), maxBodyBytes: maxBodyBytes}
	s.router.Handler(http.MethodPost, "/upload/", http.HandlerFunc(s.handleUpload))
	s.router.Handler(http.MethodPost, "/", http.HandlerFunc(s.handleUpload))
	s.router.Handler(http.MethodGet, "/ping", http.HandlerFunc(s.handlePing))
	return s
}

// Handler returns the Bouncer's public http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllLimit(r.Body, s.maxBodyBytes)
	if err != nil {
		httputil.Fail(w, http.StatusRequestEntityTooLarge, "TOO LARGE")
		return
	}

	headers := r.Header.Clone()
	if err := s.queue.Enqueue(headers, body); err != nil {
		log.WithError(err).Error("bouncer: enqueue failed")
		httputil.Fail(w, http.StatusServiceUnavailable, "QUEUE UNAVAILABLE")
		return
	}

	s.stats.Tally(StatQueued)
	httputil.OK(w)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong\n"))
}

// ReportDepth periodically mirrors the queue's drainable byte count into
// the eddn_bouncer_queue_depth gauge until the returned stop function is
// called.
func ReportDepth(queue *Queue, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if depth, err := queue.Depth(); err == nil {
					queueDepth.Set(float64(depth))
				}
			}
		}
	}()
	return func() { close(done) }
}
