package httpserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	apperrors "github.com/pscheid92/errify/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	allow bool
	err   error
	seen  []string
}

func (s *stubStore) Allow(identifier string) (bool, error) {
	s.seen = append(s.seen, identifier)
	return s.allow, s.err
}

func serveLimited(t *testing.T, mw echo.MiddlewareFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	require.NoError(t, handler(c))
	return rec
}

func TestRateLimiter_MemoryStoreBlocksAfterBurst(t *testing.T) {
	mw := newRateLimiter(newMemoryRateLimitStore(3, time.Hour), nil)

	for range 3 {
		assert.Equal(t, http.StatusOK, serveLimited(t, mw).Code)
	}

	rec := serveLimited(t, mw)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperrors.TypeRateLimited, decode[apperrors.ErrorResponse](t, rec).Type)
}

func TestRateLimiter_UsesClientIP(t *testing.T) {
	store := &stubStore{allow: true}

	serveLimited(t, newRateLimiter(store, nil))

	assert.Equal(t, []string{"203.0.113.7"}, store.seen)
}

func TestRateLimiter_StoreDenies(t *testing.T) {
	rec := serveLimited(t, newRateLimiter(&stubStore{allow: false}, nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_StoreError(t *testing.T) {
	rec := serveLimited(t, newRateLimiter(&stubStore{err: errors.New("store down")}, nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiter_AppliesToPostRoutesOnly(t *testing.T) {
	store := &stubStore{allow: false}
	srv := newTestServer(t, &mockPostService{}, func(d *Dependencies) { d.RateLimitStore = store })

	assert.Equal(t, http.StatusTooManyRequests, doRequest(srv, http.MethodGet, "/api/posts", "", "").Code)
	assert.Equal(t, http.StatusOK, doRequest(srv, http.MethodGet, "/api/health", "", "").Code)
}

func TestRateLimiter_DeniedResponseThroughServer(t *testing.T) {
	m := metrics.NewHTTPMetrics(prometheus.NewRegistry())
	srv := newTestServer(t, &mockPostService{}, func(d *Dependencies) {
		d.RateLimitStore = &stubStore{allow: false}
		d.HTTPMetrics = m
	})

	rec := doRequest(srv, http.MethodPost, "/api/posts", `{}`, "")

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decode[apperrors.ErrorResponse](t, rec)
	assert.Equal(t, apperrors.TypeRateLimited, resp.Type)
	assert.Equal(t, "too many requests, please try again later", resp.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("rate_limited")))
}
