// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/httpapi"
	"github.com/holomush/sessionauth/internal/session"
	"github.com/holomush/sessionauth/pkg/errutil"
)

const cookieName = "sid"

var exemptPaths = []string{
	"/api/v1/status/",
	"/api/v1/unauthorized/",
	"/api/v1/forbidden/",
	"/api/v1/auth_session/login/",
}

type server struct {
	t       *testing.T
	handler *httpapi.Handler
	svc     *auth.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
	svc, err := auth.NewService(memory.NewUserStore(), session.NewMemoryRegistry(), hasher)
	require.NoError(t, err)

	g, err := gate.New(gate.Config{
		Strategy:       gate.StrategySession,
		ExemptPatterns: exemptPaths,
		CookieName:     cookieName,
	}, svc, nil, nil)
	require.NoError(t, err)

	h, err := httpapi.NewHandler(httpapi.Config{CookieName: cookieName}, svc, g, nil, nil)
	require.NoError(t, err)
	return &server{t: t, handler: h, svc: svc}
}

func (s *server) do(method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	s.t.Helper()
	return serve(s.handler, method, path, form, cookie)
}

func serve(h http.Handler, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// register creates a user and logs in, returning the session cookie.
func (s *server) register(email, password string) *http.Cookie {
	s.t.Helper()
	_, err := s.svc.Register(context.Background(), email, password)
	require.NoError(s.t, err)

	rec := s.do(http.MethodPost, "/sessions", url.Values{"email": {email}, "password": {password}}, nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	return sessionCookie(s.t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("response has no %s cookie", cookieName)
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func creds(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	svc, err := auth.NewService(memory.NewUserStore(), session.NewMemoryRegistry(), auth.NewArgon2idHasher())
	require.NoError(t, err)
	g, err := gate.New(gate.Config{Strategy: gate.StrategyNone}, nil, nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  httpapi.Config
		svc  httpapi.AuthService
		gate *gate.Gate
	}{
		{"nil service", httpapi.Config{CookieName: cookieName}, nil, g},
		{"nil gate", httpapi.Config{CookieName: cookieName}, svc, nil},
		{"empty cookie name", httpapi.Config{}, svc, g},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := httpapi.NewHandler(tt.cfg, tt.svc, tt.gate, nil, nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "HTTP_INVALID_CONFIG")
		})
	}
}

func TestHandler_IndexAndNotFound(t *testing.T) {
	s := newServer(t)

	rec := s.do(http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bienvenue", decode(t, rec)["message"])

	rec = s.do(http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
}

func TestHandler_Register(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name    string
		form    url.Values
		status  int
		message string
	}{
		{"missing password", url.Values{"email": {"a@example.com"}}, http.StatusBadRequest, "email and password are required"},
		{"missing email", url.Values{"password": {"pw"}}, http.StatusBadRequest, "email and password are required"},
		{"created", creds("A@Example.com", "pw"), http.StatusOK, "user created"},
		{"duplicate", creds("a@example.com", "other"), http.StatusBadRequest, "email already registered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/users", tt.form, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decode(t, rec)["message"])
		})
	}
}

func TestHandler_LoginProfileLogout(t *testing.T) {
	s := newServer(t)
	_, err := s.svc.Register(context.Background(), "bob@example.com", "hunter2")
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/sessions", creds("bob@example.com", "wrong"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = s.do(http.MethodPost, "/sessions", creds("bob@example.com", "hunter2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob@example.com", decode(t, rec)["email"])
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.NotEmpty(t, cookie.Value)

	rec = s.do(http.MethodGet, "/profile", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob@example.com", decode(t, rec)["email"])

	rec = s.do(http.MethodGet, "/profile", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/sessions", nil, cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	rec = s.do(http.MethodGet, "/profile", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_LogoutWithoutSession(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodDelete, "/sessions", nil, &http.Cookie{Name: cookieName, Value: "bogus"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_APIGate(t *testing.T) {
	s := newServer(t)
	cookie := s.register("carol@example.com", "pw")
	bogus := &http.Cookie{Name: cookieName, Value: "bogus"}

	tests := []struct {
		name   string
		method string
		path   string
		cookie *http.Cookie
		status int
		key    string
		value  any
	}{
		{"status is exempt", http.MethodGet, "/api/v1/status", nil, http.StatusOK, "status", "OK"},
		{"status with slash", http.MethodGet, "/api/v1/status/", nil, http.StatusNotFound, "error", "Not found"},
		{"unauthorized endpoint", http.MethodGet, "/api/v1/unauthorized", nil, http.StatusUnauthorized, "error", "Unauthorized"},
		{"forbidden endpoint", http.MethodGet, "/api/v1/forbidden", nil, http.StatusForbidden, "error", "Forbidden"},
		{"stats without credentials", http.MethodGet, "/api/v1/stats", nil, http.StatusUnauthorized, "error", "Unauthorized"},
		{"stats with unknown session", http.MethodGet, "/api/v1/stats", bogus, http.StatusForbidden, "error", "Forbidden"},
		{"stats with session", http.MethodGet, "/api/v1/stats", cookie, http.StatusOK, "users", float64(1)},
		{"me with session", http.MethodGet, "/api/v1/users/me", cookie, http.StatusOK, "email", "carol@example.com"},
		{"unknown api route", http.MethodGet, "/api/v1/nope", cookie, http.StatusNotFound, "error", "Not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, nil, tt.cookie)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.value, decode(t, rec)[tt.key])
		})
	}
}

func TestHandler_APILogin(t *testing.T) {
	s := newServer(t)
	_, err := s.svc.Register(context.Background(), "dave@example.com", "pw")
	require.NoError(t, err)

	tests := []struct {
		name   string
		form   url.Values
		status int
		key    string
		value  string
	}{
		{"email missing", url.Values{"password": {"pw"}}, http.StatusBadRequest, "error", "email missing"},
		{"password missing", url.Values{"email": {"dave@example.com"}}, http.StatusBadRequest, "error", "password missing"},
		{"unknown email", creds("nobody@example.com", "pw"), http.StatusNotFound, "error", "no user found for this email"},
		{"wrong password", creds("dave@example.com", "nope"), http.StatusUnauthorized, "error", "wrong password"},
		{"success", creds("dave@example.com", "pw"), http.StatusOK, "email", "dave@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/auth_session/login", tt.form, nil)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.value, body[tt.key])
			if tt.status == http.StatusOK {
				assert.NotEmpty(t, body["id"])
				assert.NotEmpty(t, sessionCookie(t, rec).Value)
			}
		})
	}
}

func TestHandler_APILogout(t *testing.T) {
	s := newServer(t)
	cookie := s.register("erin@example.com", "pw")

	rec := s.do(http.MethodDelete, "/api/v1/auth_session/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec))
	assert.Negative(t, sessionCookie(t, rec).MaxAge)

	rec = s.do(http.MethodDelete, "/api/v1/auth_session/logout", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code, "destroyed session no longer passes the gate")

	rec = s.do(http.MethodGet, "/api/v1/users/me", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_PasswordReset(t *testing.T) {
	s := newServer(t)
	oldCookie := s.register("frank@example.com", "old")

	rec := s.do(http.MethodPost, "/reset_password", url.Values{"email": {"ghost@example.com"}}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/reset_password", url.Values{"email": {"Frank@Example.com"}}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "frank@example.com", body["email"])
	token, _ := body["reset_token"].(string)
	require.NotEmpty(t, token)

	consume := func(form url.Values) *httptest.ResponseRecorder {
		return s.do(http.MethodPut, "/reset_password", form, nil)
	}

	rec = consume(url.Values{"email": {"frank@example.com"}, "reset_token": {token}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = consume(url.Values{"email": {"frank@example.com"}, "reset_token": {"wrong"}, "new_password": {"new"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = consume(url.Values{"email": {"frank@example.com"}, "reset_token": {token}, "new_password": {"new"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password updated", decode(t, rec)["message"])

	rec = consume(url.Values{"email": {"frank@example.com"}, "reset_token": {token}, "new_password": {"again"}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "token is single use")

	rec = s.do(http.MethodGet, "/profile", nil, oldCookie)
	assert.Equal(t, http.StatusForbidden, rec.Code, "reset ends the old session")

	rec = s.do(http.MethodPost, "/sessions", creds("frank@example.com", "old"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(http.MethodPost, "/sessions", creds("frank@example.com", "new"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type denyAll struct{ keys []string }

func (d *denyAll) Allow(key string) bool {
	d.keys = append(d.keys, key)
	return false
}

func TestHandler_LoginRateLimited(t *testing.T) {
	svc, err := auth.NewService(memory.NewUserStore(), session.NewMemoryRegistry(), auth.NewArgon2idHasher())
	require.NoError(t, err)
	g, err := gate.New(gate.Config{Strategy: gate.StrategyNone}, nil, nil, nil)
	require.NoError(t, err)
	limiter := &denyAll{}
	h, err := httpapi.NewHandler(httpapi.Config{CookieName: cookieName}, svc, g, limiter, nil)
	require.NoError(t, err)

	for _, path := range []string{"/sessions", "/api/v1/auth_session/login"} {
		rec := serve(h, http.MethodPost, path, creds("x@example.com", "pw"), nil)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, path)
	}
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.1"}, limiter.keys)
}

func TestHandler_CookieAttributes(t *testing.T) {
	hasher := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 1024, Threads: 1})
	svc, err := auth.NewService(memory.NewUserStore(), session.NewMemoryRegistry(), hasher)
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), "gina@example.com", "pw")
	require.NoError(t, err)
	g, err := gate.New(gate.Config{Strategy: gate.StrategyNone}, nil, nil, nil)
	require.NoError(t, err)

	h, err := httpapi.NewHandler(httpapi.Config{
		CookieName:   cookieName,
		CookieMaxAge: 90 * time.Second,
		SecureCookie: true,
	}, svc, g, nil, nil)
	require.NoError(t, err)

	rec := serve(h, http.MethodPost, "/sessions", creds("gina@example.com", "pw"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.Equal(t, 90, cookie.MaxAge)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
}

// brokenService fails every call it overrides. Calls it does not override
// panic through the nil embedded interface.
type brokenService struct {
	httpapi.AuthService
	countOK bool
}

var errStore = errors.New("store offline")

func (b brokenService) CountUsers(context.Context) (int, bool, error) {
	if b.countOK {
		return 0, false, nil
	}
	return 0, true, errStore
}

func (b brokenService) Register(context.Context, string, string) (*auth.User, error) {
	return nil, errStore
}

func TestHandler_ServiceFailures(t *testing.T) {
	g, err := gate.New(gate.Config{Strategy: gate.StrategyNone}, nil, nil, nil)
	require.NoError(t, err)

	h, err := httpapi.NewHandler(httpapi.Config{CookieName: cookieName}, brokenService{}, g, nil, nil)
	require.NoError(t, err)

	rec := serve(h, http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec)["error"])

	rec = serve(h, http.MethodPost, "/users", creds("h@example.com", "pw"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	h, err = httpapi.NewHandler(httpapi.Config{CookieName: cookieName}, brokenService{countOK: true}, g, nil, nil)
	require.NoError(t, err)
	rec = serve(h, http.MethodGet, "/api/v1/stats", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec))
}
