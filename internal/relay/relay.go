// Package relay implements spec.md §4.F: the component that takes
// Gateway-internal frames, pseudonymizes the uploader, strips the
// uploader's IP, and republishes onto the public bus that downstream
// consumers (the Monitor, third-party listeners) subscribe to.
package relay

import (
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // pseudonym, not a security boundary
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/dedupe"
	"github.com/galnet-eddn/bus/internal/envelope"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/internal/wire"
	"github.com/galnet-eddn/bus/pkg/httputil"
)

// Stat names tallied by this component.
const (
	StatOutbound  = "outbound"
	StatDuplicate = "duplicate"
)

// RotationInterval is how long a pseudonymization nonce is reused before
// being replaced, per spec.md §3.
const RotationInterval = 12 * time.Hour

// nonce is a lazily-rotated 128-bit value mixed into the uploader pseudonym
// hash. Rotation happens on first use after the interval elapses rather
// than on a timer, so an idle Relay never spins a goroutine for it.
type nonce struct {
	mu        sync.Mutex
	value     [16]byte
	rotatedAt time.Time
}

func (n *nonce) current() ([16]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rotatedAt.IsZero() || time.Since(n.rotatedAt) >= RotationInterval {
		if _, err := rand.Read(n.value[:]); err != nil {
			return n.value, err
		}
		n.rotatedAt = time.Now()
	}
	return n.value, nil
}

func pseudonymize(n [16]byte, uploaderID string) string {
	h := sha1.New() //nolint:gosec
	h.Write(n[:])
	h.Write([]byte(uploaderID))
	return hex.EncodeToString(h.Sum(nil))
}

// Server subscribes to an internal bus, sanitizes each frame, and
// republishes onto a public bus that HTTP/websocket consumers read from.
type Server struct {
	in     *bus.Bus
	out    *bus.Bus
	nonce  nonce
	dedupe *dedupe.Cache
	stats  *stats.Collector

	router   *httprouter.Router
	upgrader websocket.Upgrader
}

// New wires a Relay reading from in and writing the sanitized stream to
// out, with st receiving outbound tallies and dedupeWindow bounding how
// long a fingerprint is remembered before a repeat is treated as new.
func New(in, out *bus.Bus, st *stats.Collector, dedupeWindow time.Duration) *Server {
	s := &Server{
		in:     in,
		out:    out,
		dedupe: dedupe.New(dedupeWindow, dedupe.DefaultMaxEntries),
		stats:  st,
		router: httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.router.Handler(http.MethodGet, "/stats/", http.HandlerFunc(s.handleStats))
	s.router.Handler(http.MethodGet, "/ping", http.HandlerFunc(s.handlePing))
	s.router.Handler(http.MethodGet, "/firehose", http.HandlerFunc(s.handleFirehose))
	return s
}

// Handler returns the Relay's public http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run consumes frames from the internal bus until ctx is canceled,
// sanitizing and republishing each one onto the public bus.
func (s *Server) Run(ctx context.Context) {
	sub := s.in.Subscribe("")
	defer s.in.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			s.process(frame)
		}
	}
}

func (s *Server) process(frame bus.Frame) {
	topic, payload := wire.SplitTopic(frame)

	plain, err := wire.Inflate(payload)
	if err != nil {
		log.WithError(err).Warn("relay: inflating frame")
		return
	}
	env, err := envelope.Parse(plain)
	if err != nil {
		log.WithError(err).Warn("relay: parsing frame")
		return
	}

	fingerprint, err := env.Fingerprint()
	if err != nil {
		log.WithError(err).Warn("relay: fingerprinting frame")
		return
	}
	if !s.dedupe.Observe(fingerprint) {
		s.stats.Tally(StatDuplicate)
		return
	}

	if uploaderID, ok := env.UploaderID(); ok && uploaderID != "" {
		n, err := s.nonce.current()
		if err != nil {
			log.WithError(err).Error("relay: generating pseudonymization nonce")
			return
		}
		env.SetUploaderID(pseudonymize(n, uploaderID))
		pseudonymized.Inc()
	}
	env.RemoveUploaderIP()

	sorted, err := env.MarshalSorted()
	if err != nil {
		log.WithError(err).Error("relay: marshaling frame")
		return
	}
	compressed, err := wire.Deflate(sorted)
	if err != nil {
		log.WithError(err).Error("relay: compressing frame")
		return
	}

	s.out.Publish(wire.Frame(topic, compressed))
	s.stats.Tally(StatOutbound)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.CORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.Summary())
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong\n"))
}

// handleFirehose upgrades to a websocket and streams every public-bus frame
// to the client until a write to it fails, per spec.md §3's optional public
// firehose. A client that falls behind is not disconnected; its bus
// subscription drops the oldest queued frames instead.
func (s *Server) handleFirehose(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("relay: websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.out.Subscribe("")
	defer s.out.Unsubscribe(sub)

	// Drain client-initiated control/close frames so the connection's read
	// side doesn't block the OS buffer; this handler never expects data.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for frame := range sub.C() {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}
