// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package gate enforces authentication on incoming HTTP requests.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
)

// Decision is the outcome of checking a request.
type Decision int

// Possible decisions.
const (
	Allow Decision = iota
	Unauthorized
	Forbidden
)

// String returns the decision label used in logs and metrics.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// UserResolver turns presented credentials into a user.
// Both methods return (nil, nil) when the credential does not authenticate.
type UserResolver interface {
	ResolveCurrentUser(ctx context.Context, token string) (*auth.User, error)
	AuthenticateBasic(ctx context.Context, email, password string) (*auth.User, error)
}

// DecisionRecorder receives one observation per checked request.
type DecisionRecorder interface {
	RecordGateDecision(decision string)
}

// Config configures a Gate.
type Config struct {
	Strategy       Strategy
	ExemptPatterns []string
	CookieName     string
}

// Gate applies the configured strategy to requests.
type Gate struct {
	strategy   Strategy
	matcher    *Matcher
	cookieName string
	resolver   UserResolver
	logger     *slog.Logger
	recorder   DecisionRecorder
}

// New creates a Gate. logger and recorder may be nil.
func New(cfg Config, resolver UserResolver, logger *slog.Logger, recorder DecisionRecorder) (*Gate, error) {
	if resolver == nil && cfg.Strategy != StrategyNone {
		return nil, oops.Code("GATE_INVALID_CONFIG").Errorf("user resolver is required")
	}
	matcher, err := NewMatcher(cfg.ExemptPatterns)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		strategy:   cfg.Strategy,
		matcher:    matcher,
		cookieName: cfg.CookieName,
		resolver:   resolver,
		logger:     logger,
		recorder:   recorder,
	}, nil
}

// Strategy returns the configured strategy.
func (g *Gate) Strategy() Strategy {
	return g.strategy
}

// ExemptPatterns returns the patterns reachable without credentials.
func (g *Gate) ExemptPatterns() []string {
	return g.matcher.Patterns()
}

// CookieName returns the session cookie name.
func (g *Gate) CookieName() string {
	return g.cookieName
}

// RequiresAuth reports whether path needs authentication.
func (g *Gate) RequiresAuth(path string) bool {
	return g.matcher.RequiresAuth(path)
}

// SessionToken returns the session cookie value of r, or "".
func (g *Gate) SessionToken(r *http.Request) string {
	return ExtractSessionToken(r, g.cookieName)
}

// CurrentUser resolves the user for r using the configured strategy.
// It returns (nil, nil) when the request does not authenticate.
func (g *Gate) CurrentUser(r *http.Request) (*auth.User, error) {
	switch {
	case g.strategy == StrategyBasic:
		email, password, ok := DecodeBasic(ExtractCredential(r))
		if !ok {
			return nil, nil
		}
		return g.resolver.AuthenticateBasic(r.Context(), email, password)
	case g.strategy.UsesSessions():
		return g.resolver.ResolveCurrentUser(r.Context(), g.SessionToken(r))
	default:
		return nil, nil
	}
}

// Check runs the enforcement sequence for r and returns the decision and,
// when allowed with authentication, the resolved user.
func (g *Gate) Check(r *http.Request) (Decision, *auth.User) {
	if g.strategy == StrategyNone || !g.RequiresAuth(r.URL.Path) {
		return g.record(Allow), nil
	}

	if ExtractCredential(r) == "" && g.SessionToken(r) == "" {
		return g.record(Unauthorized), nil
	}

	user, err := g.CurrentUser(r)
	if err != nil {
		g.logger.WarnContext(r.Context(), "current user resolution failed",
			"path", r.URL.Path,
			"strategy", g.strategy.String(),
			"error", err,
		)
		return g.record(Forbidden), nil
	}
	if user == nil {
		return g.record(Forbidden), nil
	}
	return g.record(Allow), user
}

func (g *Gate) record(d Decision) Decision {
	if g.recorder != nil {
		g.recorder.RecordGateDecision(d.String())
	}
	return d
}

// Middleware rejects requests that fail Check and stores the resolved user
// in the request context for the rest.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, user := g.Check(r)
		switch decision {
		case Unauthorized:
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		case Forbidden:
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type userKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *auth.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by Middleware, or nil.
func UserFromContext(ctx context.Context) *auth.User {
	u, _ := ctx.Value(userKey{}).(*auth.User)
	return u
}
