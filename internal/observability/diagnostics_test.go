package observability_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugledger/bugledger/internal/observability"
)

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	observability.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyHandler_AllPass(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler_CheckFails(t *testing.T) {
	t.Parallel()

	handler := observability.ReadyHandler(
		func(context.Context) error { return errors.New("repository unreachable") },
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestDiagnosticsServer_ServesAllEndpoints(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	// Instruments created from the server's meter show up on /metrics.
	im, imErr := observability.NewIngestMetrics(srv.Meter())
	require.NoError(t, imErr)

	im.RecordDiff(context.Background())

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, getErr := http.Get("http://" + srv.Addr() + path) //nolint:noctx // test request
		require.NoError(t, getErr)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, resp.Body.Close())
	}

	resp, getErr := http.Get("http://" + srv.Addr() + "/metrics") //nolint:noctx // test request
	require.NoError(t, getErr)

	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bugledger_diffs_computed")
}
