package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/pkg/metrics"
	"github.com/auditlens/auditlens/pkg/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetRequestID(r.Context())))
	})
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	h := RequestID(okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rr.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	assert.Equal(t, generated, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", rr.Body.String())
}

func TestCORS(t *testing.T) {
	h := CORS(DefaultCORSConfig())(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/audit/event-types", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "http://localhost:8080", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rr.Header().Get("Access-Control-Expose-Headers"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	h := CORS(CORSConfig{AllowOrigins: []string{"https://audit.example.com"}})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.New(time.Minute)
	t.Cleanup(limiter.Close)
	h := RateLimit(limiter, 1)(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/audit/event-types", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/audit/event-types", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestMetrics_CollapsesIdentifiers(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/audit/summary/0b7c-11", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/audit/summary/9f2a-22", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/audit/summary/{id}", "404")))
}

func TestTimeout_WritesGatewayTimeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	rr := httptest.NewRecorder()
	Timeout(10*time.Millisecond)(slow).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
}
