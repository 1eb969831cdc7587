package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"coharvest/core/events"
	"coharvest/native/bidpool"
	"coharvest/observability/metrics"
	"coharvest/services/bidpoold/export"
	"coharvest/services/bidpoold/outbox"
)

// Outbox stores instructions until a dispatcher executes them.
type Outbox interface {
	Enqueue(ctx context.Context, instructions []bidpool.Instruction) (int, error)
	Pending(ctx context.Context, limit int) ([]outbox.Entry, error)
	MarkDispatched(ctx context.Context, key string) (*outbox.Entry, error)
}

// Exporter writes settlement reports.
type Exporter interface {
	ExportRound(ctx context.Context, round uint64) (*export.Result, error)
}

// RoleDispatcher lets a token acknowledge outbox entries without being the
// owner.
const RoleDispatcher = "dispatcher"

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine      *bidpool.Engine
	Hub         *events.Hub
	Outbox      Outbox
	Exporter    Exporter
	Auth        AuthConfig
	RateLimit   RateLimit
	HTTPMetrics *metrics.HTTPMetrics
	BidMetrics  *metrics.BidPoolMetrics
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
	ServiceName string
}

// Server exposes the bid pool engine over HTTP.
type Server struct {
	engine   *bidpool.Engine
	hub      *events.Hub
	outbox   Outbox
	relay    *outbox.Relay
	exporter Exporter
	auth     *Authenticator
	limiter  *RateLimiter
	httpM    *metrics.HTTPMetrics
	bidM     *metrics.BidPoolMetrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	router http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	name := cfg.ServiceName
	if name == "" {
		name = "bidpoold"
	}
	srv := &Server{
		engine:   cfg.Engine,
		hub:      cfg.Hub,
		outbox:   cfg.Outbox,
		exporter: cfg.Exporter,
		auth:     NewAuthenticator(cfg.Auth, logger),
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.HTTPMetrics),
		httpM:    cfg.HTTPMetrics,
		bidM:     cfg.BidMetrics,
		gatherer: gatherer,
		logger:   logger,
	}
	if cfg.Engine != nil && cfg.Outbox != nil {
		srv.relay, _ = outbox.NewRelay(cfg.Engine, cfg.Outbox, logger.With("component", "outbox-relay"))
	}
	srv.router = otelhttp.NewHandler(srv.buildRouter(), name)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)

		api.Get("/config", s.handleGetConfig)
		api.Get("/rounds/last", s.handleLastRound)
		api.Get("/rounds/{round}", s.handleGetRound)
		api.Get("/rounds/{round}/pools", s.handleGetPools)
		api.Get("/rounds/{round}/pools/{slot}", s.handleGetPool)
		api.Get("/rounds/{round}/bids", s.handleListBids)
		api.Get("/rounds/{round}/bids/count", s.handleCountBids)
		api.Get("/rounds/{round}/users/{address}/bids", s.handleUserBids)
		api.Get("/rounds/{round}/users/{address}/bid-ids", s.handleUserBidIDs)
		api.Get("/rounds/{round}/estimate", s.handleEstimateAmount)
		api.Get("/bids/{id}", s.handleGetBid)
		api.Get("/bids/{id}/estimate", s.handleEstimateBid)
		api.Get("/events", s.handleEvents)

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Put("/config", s.handleUpdateConfig)
			protected.Post("/rounds", s.handleCreateRound)
			protected.Patch("/rounds/{round}", s.handleUpdateRound)
			protected.Post("/rounds/{round}/bids", s.handleSubmitBid)
			protected.Post("/rounds/{round}/finalize", s.handleFinalize)
			protected.Post("/rounds/{round}/distribute", s.handleDistribute)
			protected.Post("/rounds/{round}/export", s.handleExport)
			protected.Post("/treasury/rounds", s.handleTreasuryRound)
			protected.Get("/outbox", s.handleOutbox)
			protected.Post("/outbox/relay", s.handleOutboxRelay)
			protected.Post("/outbox/{key}/ack", s.handleOutboxAck)
		})
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		s.httpM.Observe(route, r.Method, status, time.Since(start))
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Config(r.Context()); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type problem struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, problem{Error: message, Kind: kind})
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(kind bidpool.Kind) int {
	switch kind {
	case bidpool.KindAuthorization:
		return http.StatusForbidden
	case bidpool.KindValidation:
		return http.StatusBadRequest
	case bidpool.KindNotFound:
		return http.StatusNotFound
	case bidpool.KindState:
		return http.StatusConflict
	case bidpool.KindArithmetic:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, outbox.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, bidpool.KindNotFound.String(), err.Error())
		return
	}
	kind := bidpool.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, status, kind.String(), "internal error")
		return
	}
	writeProblem(w, status, kind.String(), err.Error())
}

func badRequest(w http.ResponseWriter, err error) {
	writeProblem(w, http.StatusBadRequest, bidpool.KindValidation.String(), err.Error())
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, name), 10, 64)
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "authorization", "missing identity")
		return Identity{}, false
	}
	return id, true
}

// requireOwner checks the caller against the live config for endpoints the
// engine does not guard itself.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, allowRole string) (Identity, bool) {
	id, ok := s.identity(w, r)
	if !ok {
		return Identity{}, false
	}
	if allowRole != "" && id.HasRole(allowRole) {
		return id, true
	}
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return Identity{}, false
	}
	if !id.Caller.Equal(cfg.Owner) {
		s.writeError(w, r, bidpool.ErrUnauthorized)
		return Identity{}, false
	}
	return id, true
}
