// Package hub serves the shared peers and transfers collections over HTTP,
// with change notifications over WebSocket.
package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rapidshare/logging"
	"rapidshare/metrics"
	"rapidshare/models"
)

const (
	// DefaultPruneInterval is how often long-offline peers are swept.
	DefaultPruneInterval = time.Hour
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 5 * time.Second

	maxBodyBytes = 1 << 20
)

// Store is the document store the hub exposes.
type Store interface {
	UpsertPeer(ctx context.Context, peer models.Peer) (models.Peer, error)
	SetPeerStatus(ctx context.Context, deviceID string, status models.PeerStatus) error
	GetPeer(ctx context.Context, deviceID string) (models.Peer, error)
	QueryPeers(ctx context.Context, q models.PeerQuery) ([]models.Peer, error)
	PruneOfflinePeers(ctx context.Context, olderThan time.Duration) (int64, error)

	CreateTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (models.Transfer, error)
	QueryTransfers(ctx context.Context, q models.TransferQuery) ([]models.Transfer, error)
	UpdateTransferProgress(ctx context.Context, transferID string, update models.TransferUpdate) error

	Changes(ctx context.Context, collection string) (<-chan struct{}, error)
}

// Options configures a Server.
type Options struct {
	// Token, when set, must be presented as "Authorization: Bearer <token>"
	// on every /v1 data route.
	Token string
	// PruneAfter removes offline peers not seen for this long. Zero disables.
	PruneAfter    time.Duration
	PruneInterval time.Duration
	// NetworkAddress is answered on /v1/ip to callers with a private or
	// loopback address. Empty uses the local address the request arrived on.
	NetworkAddress string
	Clock          clock.Clock
	Logger         *zap.Logger
}

// Server is the hub HTTP server.
type Server struct {
	store  Store
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a hub over store.
func NewServer(store Store, opts Options) *Server {
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = DefaultPruneInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Server{
		store:  store,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).Named("hub"),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Public address lookup, compatible with api.ipify.org?format=json.
		r.Get("/ip", s.handleIP)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)

			r.Get("/peers", s.handleQueryPeers)
			r.Get("/peers/{id}", s.handleGetPeer)
			r.Put("/peers/{id}", s.handleUpsertPeer)
			r.Patch("/peers/{id}", s.handleSetPeerStatus)

			r.Get("/transfers", s.handleQueryTransfers)
			r.Post("/transfers", s.handleCreateTransfer)
			r.Get("/transfers/{id}", s.handleGetTransfer)
			r.Patch("/transfers/{id}", s.handleUpdateTransfer)

			r.Get("/watch", s.handleWatch)
		})
	})

	return r
}

// Addr returns the bound address once Serve is running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe binds addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx ends, then shuts down
// gracefully. Open watch streams are closed with ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pruneLoop(pruneCtx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	s.logger.Info("hub listening", zap.String("addr", ln.Addr().String()))

	var errs error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errs = multierr.Append(errs, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	errs = multierr.Append(errs, srv.Shutdown(shutdownCtx))

	stopPrune()
	wg.Wait()
	s.logger.Info("hub stopped")
	return errs
}

// Prune removes long-offline peers once.
func (s *Server) Prune(ctx context.Context) (int64, error) {
	if s.opts.PruneAfter <= 0 {
		return 0, nil
	}
	removed, err := s.store.PruneOfflinePeers(ctx, s.opts.PruneAfter)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("pruned offline peers", zap.Int64("removed", removed))
	}
	return removed, nil
}

func (s *Server) pruneLoop(ctx context.Context) {
	if s.opts.PruneAfter <= 0 {
		return
	}
	ticker := s.opts.Clock.Ticker(s.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("prune offline peers failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.opts.Token)) != 1 {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HubRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("store operation failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
