// Package httpapi implements the tracker's JSON HTTP surface: thin handlers
// that parse and validate a request, send a command to the tracker core,
// await its reply, and format the response, matching the teacher's "one
// call per RPC" handler shape (rpcserver.go) re-expressed over net/http +
// gorilla/mux instead of gRPC, since this surface is plain HTTP JSON, not
// protobuf.
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basis-protocol/tracker/errkind"
	"github.com/basis-protocol/tracker/store"
	"github.com/basis-protocol/tracker/tracker"
)

// Config bundles everything a Server needs to answer requests.
type Config struct {
	Core *tracker.Core
	DB   *store.DB

	// ReserveContractP2S and TrackerNftID back POST /reserves/create's
	// unsigned payment-request payload.
	ReserveContractP2S  string
	TrackerNftID        [32]byte
	TrackerPublicKeyHex string
}

// Server owns the mux.Router and exposes it as an http.Handler for
// net/http.Server to drive.
type Server struct {
	cfg     Config
	router  *mux.Router
	metrics *metrics

	healthMu  sync.Mutex
	lastCheck time.Time
	healthy   bool
}

// New builds a Server with every route registered.
func New(cfg Config) *Server {
	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		metrics: newMetrics(registry),
		healthy: true,
	}

	s.router.HandleFunc("/", s.wrap("root", s.handleRoot)).Methods(http.MethodGet)

	s.router.HandleFunc("/notes", s.wrap("notes.create", s.handleSubmitNote)).Methods(http.MethodPost)
	s.router.HandleFunc("/notes", s.wrap("notes.list", s.handleListNotes)).Methods(http.MethodGet)
	s.router.HandleFunc("/notes/issuer/{pk}", s.wrap("notes.byIssuer", s.handleNotesByIssuer)).Methods(http.MethodGet)
	s.router.HandleFunc("/notes/recipient/{pk}", s.wrap("notes.byRecipient", s.handleNotesByRecipient)).Methods(http.MethodGet)
	s.router.HandleFunc("/notes/issuer/{a}/recipient/{b}", s.wrap("notes.single", s.handleSingleNote)).Methods(http.MethodGet)

	s.router.HandleFunc("/reserves", s.wrap("reserves.list", s.handleListReserves)).Methods(http.MethodGet)
	s.router.HandleFunc("/reserves/issuer/{pk}", s.wrap("reserves.byIssuer", s.handleReservesByIssuer)).Methods(http.MethodGet)
	s.router.HandleFunc("/reserves/create", s.wrap("reserves.create", s.handleReserveCreate)).Methods(http.MethodPost)

	s.router.HandleFunc("/key-status/{pk}", s.wrap("keyStatus", s.handleKeyStatus)).Methods(http.MethodGet)

	s.router.HandleFunc("/proof", s.wrap("proof", s.handleProof)).Methods(http.MethodGet)
	s.router.HandleFunc("/proof/redemption", s.wrap("proof.redemption", s.handleRedemptionProof)).Methods(http.MethodGet)

	s.router.HandleFunc("/redemption/prepare", s.wrap("redemption.prepare", s.handleRedemptionPrepare)).Methods(http.MethodPost)
	s.router.HandleFunc("/tracker/signature", s.wrap("tracker.signature", s.handleTrackerSignature)).Methods(http.MethodPost)
	s.router.HandleFunc("/redeem", s.wrap("redeem", s.handleRedeem)).Methods(http.MethodPost)
	s.router.HandleFunc("/redeem/complete", s.wrap("redeem.complete", s.handleRedeemComplete)).Methods(http.MethodPost)

	s.router.HandleFunc("/events", s.wrap("events", s.handleEvents)).Methods(http.MethodGet)
	s.router.HandleFunc("/events/paginated", s.wrap("events.paginated", s.handleEventsPaginated)).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.wrap("healthz", s.handleHealthz)).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return s
}

// Router returns the handler to pass to an http.Server.
func (s *Server) Router() http.Handler { return s.router }

// statusRecorder captures the status code a handler actually wrote, so the
// instrumentation middleware can label the request-count metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// wrap times a handler and records its outcome under route, matching the
// per-call instrumentation the teacher applies to gRPC methods.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r)
		elapsed := time.Since(start)
		s.metrics.latency.WithLabelValues(route).Observe(elapsed.Seconds())
		s.metrics.requests.WithLabelValues(route, statusClass(rec.status)).Inc()
		if rec.status >= 500 {
			log.Errorf("%s: %d in %s", route, rec.status, elapsed)
		}
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("basis-tracker alive"))
}

// handleHealthz reports a liveness boolean and, when the tracker core
// answers, its tree snapshot. The check runs on each request: healthy is
// false (503) only when the core has shut down. It does not probe the
// store separately and does not report command-queue depth.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Core.Snapshot()
	healthy := err == nil || !errkind.Is(err, errkind.Shutdown)

	s.healthMu.Lock()
	s.lastCheck = time.Now()
	s.healthy = healthy
	s.healthMu.Unlock()

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{"healthy": healthy}
	if err == nil {
		body["tree"] = toSnapshotDTO(snap)
	}
	respond(w, status, body)
}
