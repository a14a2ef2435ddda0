// Package gateway implements spec.md §4.E: the public HTTP upload intake
// that validates, de-duplicates, timestamps and republishes telemetry onto
// the internal bus.
package gateway

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/dedupe"
	"github.com/galnet-eddn/bus/internal/envelope"
	"github.com/galnet-eddn/bus/internal/schema"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/internal/wire"
	"github.com/galnet-eddn/bus/pkg/httputil"
)

// Stat names tallied by this component.
const (
	StatInbound  = "inbound"
	StatDupe     = "duplicate"
	StatRejected = "rejected"
)

// Config holds Gateway startup parameters.
type Config struct {
	MaxBodyBytes int64
	// TrustForwardedIP honors X-Forwarded-For, but only from a peer
	// matching TrustedProxyPrefix: otherwise any direct client could
	// spoof its reported uploaderIP.
	TrustForwardedIP   bool
	TrustedProxyPrefix string // CIDR, e.g. "10.0.0.0/8"
	DedupeWindow       time.Duration
	DedupeMaxEntries   int
}

// DefaultMaxBodyBytes caps an unauthenticated upload body.
const DefaultMaxBodyBytes = 1 << 20 // 1 MiB

// Server is the Gateway's HTTP surface.
type Server struct {
	cfg          Config
	bus          *bus.Bus
	schemas      *schema.Registry
	dedupe       *dedupe.Cache
	stats        *stats.Collector
	router       *httprouter.Router
	trustedProxy *net.IPNet
}

// New wires a Gateway server publishing accepted uploads onto b, validated
// against schemas, deduplicated per cfg, and tallied into st.
func New(cfg Config, b *bus.Bus, schemas *schema.Registry, st *stats.Collector) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	var trustedProxy *net.IPNet
	if cfg.TrustForwardedIP && cfg.TrustedProxyPrefix != "" {
		_, parsed, err := net.ParseCIDR(cfg.TrustedProxyPrefix)
		if err != nil {
			log.WithError(err).Errorf("gateway: invalid trusted proxy prefix %q, X-Forwarded-For will never be honored", cfg.TrustedProxyPrefix)
		} else {
			trustedProxy = parsed
		}
	}
	s := &Server{
		cfg:          cfg,
		bus:          b,
		schemas:      schemas,
		dedupe:       dedupe.New(cfg.DedupeWindow, cfg.DedupeMaxEntries),
		stats:        st,
		router:       httprouter.New(),
		trustedProxy: trustedProxy,
	}
	s.router.Handler(http.MethodPost, "/upload/", http.HandlerFunc(s.handleUpload))
	s.router.Handler(http.MethodPost, "/", http.HandlerFunc(s.handleUpload))
	s.router.Handler(http.MethodGet, "/stats/", http.HandlerFunc(s.handleStats))
	s.router.Handler(http.MethodGet, "/ping", http.HandlerFunc(s.handlePing))
	s.router.Handler(http.MethodGet, "/health", http.HandlerFunc(s.handlePing))
	return s
}

// Handler returns the Gateway's public http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) reject(w http.ResponseWriter, status int, reason string) {
	rejections.WithLabelValues(reason).Inc()
	s.stats.Tally(StatRejected)
	httputil.Fail(w, status, reason)
}

// handleUpload implements spec.md §4.E's upload algorithm.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	raw, err := httputil.ReadAllLimit(r.Body, s.cfg.MaxBodyBytes)
	if err != nil {
		s.reject(w, http.StatusRequestEntityTooLarge, "TOO LARGE")
		return
	}

	body, err := decodeBody(r, raw)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "CORRUPT COMPRESSION")
		return
	}

	env, err := envelope.Parse(body)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "UNPARSEABLE JSON")
		return
	}

	if missing, ok := env.RequireStructure(); !ok {
		s.reject(w, http.StatusBadRequest, "MISSING STRUCTURAL ELEMENT "+missing)
		return
	}

	schemaRef := env.SchemaRef()
	if err := s.schemas.Validate(schemaRef, env.Message()); err != nil {
		switch e := err.(type) {
		case *schema.InvalidError:
			s.reject(w, http.StatusBadRequest, "SCHEMA VALIDATION FAILED /message"+e.Path+": "+e.Reason)
		default:
			s.reject(w, http.StatusBadRequest, "UNKNOWN SCHEMA "+schemaRef)
		}
		return
	}

	env.StripGatewayFields()
	env.SetGatewayTimestamp(time.Now())
	env.SetUploaderIP(clientIP(r, s.cfg.TrustForwardedIP, s.trustedProxy))

	fingerprint, err := env.Fingerprint()
	if err != nil {
		log.WithError(err).Error("gateway: computing fingerprint")
		s.reject(w, http.StatusInternalServerError, "INTERNAL ERROR")
		return
	}
	if !s.dedupe.Observe(fingerprint) {
		s.stats.Tally(StatDupe)
		httputil.OK(w)
		return
	}

	plain, err := env.Marshal()
	if err != nil {
		log.WithError(err).Error("gateway: marshaling envelope")
		s.reject(w, http.StatusInternalServerError, "INTERNAL ERROR")
		return
	}
	compressed, err := wire.Deflate(plain)
	if err != nil {
		log.WithError(err).Error("gateway: compressing envelope")
		s.reject(w, http.StatusInternalServerError, "INTERNAL ERROR")
		return
	}

	s.bus.Publish(wire.Frame(schemaRef, compressed))
	s.stats.Tally(StatInbound)
	httputil.OK(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.CORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats.Summary())
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong\n"))
}

// decodeBody extracts the envelope JSON from a raw request body: form-
// encoded uploads carry it in the "data" field, gzip/zlib-compressed
// uploads are sniffed by magic bytes regardless of Content-Encoding, and
// anything else is treated as raw JSON (spec.md §4.E step 2).
func decodeBody(r *http.Request, body []byte) ([]byte, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		body = []byte(values.Get("data"))
	}

	switch {
	case len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b:
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, wire.ErrCorrupt
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return nil, wire.ErrCorrupt
		}
		return out, nil
	case wire.IsZlibHeader(body):
		return wire.Inflate(body)
	default:
		return body, nil
	}
}

// clientIP reports the uploader's address. X-Forwarded-For is only honored
// when trustForwarded is set and the immediate peer address falls within
// trustedProxy — otherwise a direct client could set the header itself and
// spoof its reported address.
func clientIP(r *http.Request, trustForwarded bool, trustedProxy *net.IPNet) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if trustForwarded && trustedProxy != nil {
		if peer := net.ParseIP(host); peer != nil && trustedProxy.Contains(peer) {
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				if idx := strings.IndexByte(fwd, ','); idx >= 0 {
					fwd = fwd[:idx]
				}
				return strings.TrimSpace(fwd)
			}
		}
	}
	return host
}
