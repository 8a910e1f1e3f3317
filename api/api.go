// Package api serves the couponclip engine over HTTP. The caller is
// identified by the X-User-ID header, set by the fronting gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/couponclip"
	"github.com/hazyhaar/couponclip/guard"
	"github.com/hazyhaar/couponclip/kit"
	"github.com/hazyhaar/couponclip/model"
)

// UserHeader carries the authenticated user ID.
const UserHeader = "X-User-ID"

// Engine is the part of *couponclip.Engine the API drives.
type Engine interface {
	Discover(ctx context.Context, rawURL string, creds model.Credentials) (*model.StoreConfig, error)
	AddStore(ctx context.Context, userID int64, rawURL string, creds model.Credentials) (model.StoreConfig, error)
	RegisterStore(ctx context.Context, userID int64, cfg model.StoreConfig) (model.StoreConfig, error)
	ListStores(ctx context.Context, userID int64) ([]model.StoreConfig, error)
	GetStore(ctx context.Context, userID, storeID int64) (model.StoreConfig, error)
	RemoveStore(ctx context.Context, userID, storeID int64) error
	ClipStore(ctx context.Context, userID, storeID int64, creds *model.Credentials) (model.ClipResult, error)
	CleanupExpiredSessions(maxAgeDays int) (int, error)
}

// Config configures the router.
type Config struct {
	Engine Engine
	// Limiter throttles the endpoints that launch a browser. Nil disables it.
	Limiter *RateLimiter
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

type server struct {
	engine Engine
	logger *slog.Logger
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &server{engine: cfg.Engine, logger: cfg.Logger}
	throttle := func(h http.Handler) http.Handler { return h }
	if cfg.Limiter != nil {
		throttle = cfg.Limiter.Middleware
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestContext)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", s.listStores)
			r.With(throttle).Post("/", s.addStore)
			r.With(throttle).Post("/discover", s.discover)
			r.Get("/{id}", s.getStore)
			r.Delete("/{id}", s.removeStore)
			r.With(throttle).Post("/{id}/clip", s.clipStore)
		})
		r.Post("/sessions/cleanup", s.cleanup)
	})
	return r
}

// requestContext copies the chi request ID into the kit context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), "http")
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = kit.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeaders marks every response as uncacheable, unframeable JSON.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid "+UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithUserID(r.Context(), id)))
	})
}

type discoverRequest struct {
	URL string `json:"url"`
	model.Credentials
}

type addStoreRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	LoginURL string `json:"login_url"`
	model.Credentials
}

type clipRequest struct {
	model.Credentials
}

type cleanupRequest struct {
	MaxAgeDays int `json:"max_age_days"`
}

func (s *server) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}
	cfg, err := s.engine.Discover(r.Context(), req.URL, req.Credentials)
	if err != nil {
		s.fail(w, r, errors.Join(couponclip.ErrDiscoveryFailed, err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// addStore accepts either a URL to discover or an explicit store config.
func (s *server) addStore(w http.ResponseWriter, r *http.Request) {
	var req addStoreRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if !req.Credentials.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "email_or_username and password are required")
		return
	}
	userID := kit.UserID(r.Context())

	var (
		cfg model.StoreConfig
		err error
	)
	switch {
	case req.Name != "" || req.LoginURL != "":
		base := req.BaseURL
		if base == "" {
			base = req.URL
		}
		cfg, err = s.engine.RegisterStore(r.Context(), userID, model.StoreConfig{
			Name: req.Name, BaseURL: base, LoginURL: req.LoginURL,
		}.WithCredentials(req.Credentials))
	case req.URL != "":
		cfg, err = s.engine.AddStore(r.Context(), userID, req.URL, req.Credentials)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *server) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.engine.ListStores(r.Context(), kit.UserID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (s *server) getStore(w http.ResponseWriter, r *http.Request) {
	id, ok := storeID(w, r)
	if !ok {
		return
	}
	cfg, err := s.engine.GetStore(r.Context(), kit.UserID(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *server) removeStore(w http.ResponseWriter, r *http.Request) {
	id, ok := storeID(w, r)
	if !ok {
		return
	}
	if err := s.engine.RemoveStore(r.Context(), kit.UserID(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) clipStore(w http.ResponseWriter, r *http.Request) {
	id, ok := storeID(w, r)
	if !ok {
		return
	}
	var req clipRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	var creds *model.Credentials
	if req.Credentials.Valid() {
		creds = &req.Credentials
	}
	res, err := s.engine.ClipStore(r.Context(), kit.UserID(r.Context()), id, creds)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	n, err := s.engine.CleanupExpiredSessions(req.MaxAgeDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func storeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid store id")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON body into dst. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// fail maps engine errors to HTTP statuses. Unknown errors are logged and
// reported as 500 without detail.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, guard.ErrUnsafeTarget), errors.Is(err, guard.ErrUnsafeScheme), errors.Is(err, guard.ErrNoHost):
		writeError(w, http.StatusBadRequest, "unsafe_target", "target URL is not allowed")
	case errors.Is(err, couponclip.ErrAlreadyAdded):
		writeError(w, http.StatusConflict, "already_added", "store already added")
	case errors.Is(err, couponclip.ErrStoreNotFound):
		writeError(w, http.StatusNotFound, "not_found", "store not found")
	case errors.Is(err, couponclip.ErrVerificationFailed):
		writeError(w, http.StatusBadRequest, "login_failed", "could not sign in with the supplied credentials")
	case errors.Is(err, couponclip.ErrDiscoveryFailed):
		writeError(w, http.StatusBadRequest, "discovery_failed", "could not discover a store at that URL")
	case errors.Is(err, couponclip.ErrInvalidStore):
		writeError(w, http.StatusBadRequest, "invalid_store", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "api: request failed",
			"error", err, "path", r.URL.Path, "request_id", kit.RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
