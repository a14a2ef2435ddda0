package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/galnet-eddn/bus/pkg/httputil"
)

var errInvalidMaxDays = errors.New("maxDays must be a positive integer")

// DefaultMaxDays bounds a totals/daily query when the caller specifies
// neither maxDays nor an explicit date range.
const DefaultMaxDays = 30

// Server is the Monitor's read-only query surface.
type Server struct {
	store  *Store
	router *httprouter.Router
}

// NewServer wires a read-only HTTP surface over store.
func NewServer(store *Store) *Server {
	s := &Server{store: store, router: httprouter.New()}
	s.router.Handler(http.MethodGet, "/schemas", http.HandlerFunc(s.handleSchemaDaily))
	s.router.Handler(http.MethodGet, "/schemas/totals", http.HandlerFunc(s.handleSchemaTotals))
	s.router.Handler(http.MethodGet, "/softwares", http.HandlerFunc(s.handleSoftwareDaily))
	s.router.Handler(http.MethodGet, "/softwares/totals", http.HandlerFunc(s.handleSoftwareTotals))
	s.router.Handler(http.MethodGet, "/ping", http.HandlerFunc(s.handlePing))
	return s
}

// Handler returns the Monitor's public http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleSchemaDaily(w http.ResponseWriter, r *http.Request) {
	start, end, err := resolveRange(r)
	if err != nil {
		httputil.CORS(w)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.SchemaDaily(start, end)
	s.writeJSON(w, rows, err)
}

func (s *Server) handleSchemaTotals(w http.ResponseWriter, r *http.Request) {
	start, end, err := resolveRange(r)
	if err != nil {
		httputil.CORS(w)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.SchemaTotals(start, end)
	s.writeJSON(w, rows, err)
}

func (s *Server) handleSoftwareDaily(w http.ResponseWriter, r *http.Request) {
	start, end, err := resolveRange(r)
	if err != nil {
		httputil.CORS(w)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.SoftwareDaily(start, end)
	s.writeJSON(w, rows, err)
}

func (s *Server) handleSoftwareTotals(w http.ResponseWriter, r *http.Request) {
	start, end, err := resolveRange(r)
	if err != nil {
		httputil.CORS(w)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.SoftwareTotals(start, end)
	s.writeJSON(w, rows, err)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("pong\n"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, err error) {
	httputil.CORS(w)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// resolveRange honors an explicit dateStart/dateEnd query pair, or falls
// back to a trailing maxDays window ending today (default DefaultMaxDays).
func resolveRange(r *http.Request) (start, end time.Time, err error) {
	q := r.URL.Query()
	today := time.Now().UTC().Truncate(24 * time.Hour)

	if ds, de := q.Get("dateStart"), q.Get("dateEnd"); ds != "" || de != "" {
		start, err = time.Parse(dateLayout, ds)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end, err = time.Parse(dateLayout, de)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return start, end, nil
	}

	maxDays := DefaultMaxDays
	if v := q.Get("maxDays"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return time.Time{}, time.Time{}, errInvalidMaxDays
		}
		maxDays = n
	}
	start = today.AddDate(0, 0, -(maxDays - 1))
	return start, today, nil
}
