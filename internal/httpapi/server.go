// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/gate"
)

const tracerName = "github.com/holomush/sessionauth/internal/httpapi"

// AuthService is the subset of auth.Service the handlers use.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*auth.User, error)
	Login(ctx context.Context, email, password string) (*auth.User, string, error)
	UserByEmail(ctx context.Context, email string) (*auth.User, error)
	ResolveCurrentUser(ctx context.Context, token string) (*auth.User, error)
	DestroySession(ctx context.Context, token string) (bool, error)
	Logout(ctx context.Context, userID ulid.ULID) error
	IssueResetToken(ctx context.Context, email string) (string, error)
	ConsumeResetToken(ctx context.Context, token, newPassword string) error
	CountUsers(ctx context.Context) (int, bool, error)
}

// Limiter decides whether a client may attempt a login.
type Limiter interface {
	Allow(key string) bool
}

// Config configures a Handler.
type Config struct {
	// CookieName is the session cookie. Required.
	CookieName string
	// CookieMaxAge bounds the cookie lifetime; zero makes it a browser-session cookie.
	CookieMaxAge time.Duration
	// SecureCookie sets the Secure attribute on the session cookie.
	SecureCookie bool
}

// Handler serves the auth routes.
type Handler struct {
	cfg     Config
	svc     AuthService
	gate    *gate.Gate
	limiter Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
	mux     *http.ServeMux
}

// NewHandler builds the route table. limiter and logger may be nil.
func NewHandler(cfg Config, svc AuthService, g *gate.Gate, limiter Limiter, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("auth service is required")
	}
	if g == nil {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("gate is required")
	}
	if cfg.CookieName == "" {
		return nil, oops.Code("HTTP_INVALID_CONFIG").Errorf("cookie name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		cfg:     cfg,
		svc:     svc,
		gate:    g,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
		mux:     http.NewServeMux(),
	}
	h.routes()
	return h, nil
}

func (h *Handler) routes() {
	h.handle("GET /{$}", h.handleIndex)
	h.handle("POST /users", h.handleRegister)
	h.handle("POST /sessions", h.rateLimited(h.handleLogin))
	h.handle("DELETE /sessions", h.handleLogout)
	h.handle("GET /profile", h.handleProfile)
	h.handle("POST /reset_password", h.handleIssueReset)
	h.handle("PUT /reset_password", h.handleConsumeReset)

	api := http.NewServeMux()
	h.handleOn(api, "GET /api/v1/status", h.handleStatus)
	h.handleOn(api, "GET /api/v1/stats", h.handleStats)
	h.handleOn(api, "GET /api/v1/unauthorized", h.handleAbort(http.StatusUnauthorized, "Unauthorized"))
	h.handleOn(api, "GET /api/v1/forbidden", h.handleAbort(http.StatusForbidden, "Forbidden"))
	h.handleOn(api, "GET /api/v1/users/me", h.handleMe)
	h.handleOn(api, "POST /api/v1/auth_session/login", h.rateLimited(h.handleAPILogin))
	h.handleOn(api, "DELETE /api/v1/auth_session/logout", h.handleAPILogout)
	api.HandleFunc("/", h.handleNotFound)
	h.mux.Handle("/api/v1/", h.gate.Middleware(api))

	h.mux.HandleFunc("/", h.handleNotFound)
}

func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.handleOn(h.mux, pattern, fn)
}

func (h *Handler) handleOn(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.traced(pattern, fn))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// statusRecorder captures the status code for span attributes.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) traced(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), name, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.Int("http.response.status_code", rec.status),
		)
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

func (h *Handler) rateLimited(fn http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return fn
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow(clientIP(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			return
		}
		fn(w, r)
	}
}

// clientIP returns the host part of the remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	c := &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if h.cfg.CookieMaxAge > 0 {
		c.MaxAge = int(h.cfg.CookieMaxAge / time.Second)
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"path", r.URL.Path,
		"error", err,
	)
	trace.SpanFromContext(r.Context()).RecordError(err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}
