package httpapi

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/auth"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/events"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/jobs"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ledger"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/matcher"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ratelimit"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
)

// Deps are the components the HTTP layer serves. Hub may be nil, in which
// case /ws is not routed. X-Forwarded-For is honoured only from peers inside
// TrustedProxies.
type Deps struct {
	Store      storage.Store
	Auth       *auth.Authenticator
	Issuer     *auth.Issuer
	Limiter    *ratelimit.Limiter
	Matcher    *matcher.Service
	Jobs       *jobs.Service
	Ledger     *ledger.Service
	Calculator *payout.Calculator
	Hub        *events.Hub
	Logger     *slog.Logger

	TrustedProxies []netip.Prefix
}

type Server struct {
	store   storage.Store
	auth    *auth.Authenticator
	issuer  *auth.Issuer
	limiter *ratelimit.Limiter
	matcher *matcher.Service
	jobs    *jobs.Service
	ledger  *ledger.Service
	calc    *payout.Calculator
	hub     *events.Hub
	logger  *slog.Logger
	mux     *mux.Router

	trustedProxies []netip.Prefix
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	calc := d.Calculator
	if calc == nil {
		calc = payout.NewCalculator(payout.DefaultConfig())
	}
	s := &Server{
		store:   d.Store,
		auth:    d.Auth,
		issuer:  d.Issuer,
		limiter: d.Limiter,
		matcher: d.Matcher,
		jobs:    d.Jobs,
		ledger:  d.Ledger,
		calc:    calc,
		hub:     d.Hub,
		logger:  logger,
		mux:     mux.NewRouter(),

		trustedProxies: d.TrustedProxies,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/me", s.authed(s.handleMe)).Methods(http.MethodGet)

	api.HandleFunc("/jobs/eligible", s.authed(s.handleEligible)).Methods(http.MethodGet)
	api.HandleFunc("/technicians/{id}/eligible-jobs", s.authed(s.handleTechnicianEligible)).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/accept", s.authed(s.handleAccept)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/complete", s.authed(s.handleComplete)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/status", s.authed(s.handleJobStatus)).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/payout", s.authed(s.handlePayoutPreview)).Methods(http.MethodGet)

	api.HandleFunc("/ledger", s.authed(s.handleLedgerList)).Methods(http.MethodGet)
	api.HandleFunc("/ledger/{id}", s.authed(s.handleLedgerGet)).Methods(http.MethodGet)
	api.HandleFunc("/ledger/{id}/state", s.authed(s.handleLedgerState)).Methods(http.MethodPost)
	api.HandleFunc("/ledger/{id}/override", s.authed(s.handleLedgerOverride)).Methods(http.MethodPost)
	api.HandleFunc("/ledger/{id}/disburse", s.authed(s.handleLedgerDisburse)).Methods(http.MethodPost)
	api.HandleFunc("/ledger/{id}/audit", s.authed(s.handleLedgerAudit)).Methods(http.MethodGet)

	if s.hub != nil {
		s.mux.Handle("/ws", s.rateLimitMiddleware(s.authed(s.handleWS))).Methods(http.MethodGet)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
