// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, nil)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	require.NotEmpty(t, server.Addr())
	return server
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // test against a local listener
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true })

	status, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")

	m := server.Metrics()
	m.RecordLogin("ok")
	m.RecordSessionOp("create", "ok")

	_, body = get(t, "http://"+server.Addr()+"/metrics")
	assert.Contains(t, body, "sessionauth_logins_total")
	assert.Contains(t, body, "sessionauth_session_ops_total")
}

func TestServer_LivenessReturns200(t *testing.T) {
	server := startServer(t, nil)

	status, body := get(t, "http://"+server.Addr()+"/healthz/liveness")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func readiness(t *testing.T, server *Server) (int, readinessReport) {
	t.Helper()
	status, body := get(t, "http://"+server.Addr()+"/healthz/readiness")
	var report readinessReport
	require.NoError(t, json.Unmarshal([]byte(body), &report), body)
	return status, report
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		ready      ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"ready", func() bool { return true }, http.StatusOK, "ok"},
		{"not ready", func() bool { return false }, http.StatusServiceUnavailable, "not ready"},
		{"nil checker is ready", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ready)

			status, report := readiness(t, server)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, report.Status)
			assert.Empty(t, report.Checks)
		})
	}
}

func TestServer_ReadinessChecks(t *testing.T) {
	server := startServer(t, func() bool { return true })

	redisErr := errors.New("dial tcp: connection refused")
	var redisHealthy atomic.Bool
	server.AddCheck("postgres", func(context.Context) error { return nil })
	server.AddCheck("redis", func(context.Context) error {
		if redisHealthy.Load() {
			return nil
		}
		return redisErr
	})

	status, report := readiness(t, server)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", report.Status)
	assert.Equal(t, map[string]string{
		"postgres": "ok",
		"redis":    "error: dial tcp: connection refused",
	}, report.Checks)

	redisHealthy.Store(true)
	status, report = readiness(t, server)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "ok", report.Checks["redis"])
}

func TestServer_ReadinessSkipsChecksWhenNotStarted(t *testing.T) {
	server := startServer(t, func() bool { return false })
	var called atomic.Bool
	server.AddCheck("postgres", func(context.Context) error {
		called.Store(true)
		return nil
	})

	status, report := readiness(t, server)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready", report.Status)
	assert.False(t, called.Load())
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil)

	_, err := server.Start()
	require.Error(t, err)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Stop(ctx))
}

func TestServer_ErrorChannelReportsServeErrors(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)

	errCh, err := server.Start()
	require.NoError(t, err)

	// closing the listener under Serve forces a serve error
	require.NotNil(t, server.listener)
	_ = server.listener.Close()

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for serve error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, nil)

	errCh, err := server.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for error channel to close")
	}
}

func TestServer_MetricsIncrement(t *testing.T) {
	server := startServer(t, func() bool { return true })

	m := server.Metrics()
	m.RecordGateDecision("forbidden")
	m.RecordGateDecision("forbidden")
	m.RecordPasswordReset("issue", "ok")

	_, body := get(t, "http://"+server.Addr()+"/metrics")
	assert.Contains(t, body, `sessionauth_gate_decisions_total{decision="forbidden"} 2`)
	assert.Contains(t, body, `sessionauth_password_resets_total{result="ok",stage="issue"} 1`)
}
