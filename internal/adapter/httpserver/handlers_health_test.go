package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleAPIHealth(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})
	srv.clock.(*clockwork.FakeClock).Advance(90 * time.Second)

	rec := doRequest(srv, http.MethodGet, "/api/health", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[apiHealthResponse](t, rec)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, "Errify API is running", resp.Message)
	assert.True(t, resp.Timestamp.Equal(testNow.Add(90*time.Second)))
	assert.InDelta(t, 90.0, resp.Uptime, 0.001)
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodGet, "/health/live", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"uptime"`)
}

func TestHandleReadiness(t *testing.T) {
	srv := newTestServer(t, &mockPostService{},
		withHealthChecks(
			HealthCheck{Name: "postgres", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthOK},
		),
	)

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleReadiness_Unhealthy(t *testing.T) {
	srv := newTestServer(t, &mockPostService{},
		withHealthChecks(
			HealthCheck{Name: "postgres", Check: healthOK},
			HealthCheck{Name: "redis", Check: healthErr("connection refused")},
		),
	)

	rec := doRequest(srv, http.MethodGet, "/health/ready", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), `"failed_check":"redis"`)
	assert.Contains(t, rec.Body.String(), `"error":"connection refused"`)
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	rec := doRequest(srv, http.MethodGet, "/version", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestWebSocketAndMetricsRoutesAreOptional(t *testing.T) {
	srv := newTestServer(t, &mockPostService{})

	assert.Equal(t, http.StatusNotFound, doRequest(srv, http.MethodGet, "/ws", "", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(srv, http.MethodGet, "/metrics", "", "").Code)

	mounted := newTestServer(t, &mockPostService{}, func(d *Dependencies) {
		d.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("errify_up 1\n"))
		})
	})
	rec := doRequest(mounted, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "errify_up 1\n", rec.Body.String())
}
