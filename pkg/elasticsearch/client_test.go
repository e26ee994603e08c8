package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditlens/auditlens/pkg/config"
	"github.com/auditlens/auditlens/pkg/resilience"
)

func testConfig(url string) config.ElasticsearchConfig {
	return config.ElasticsearchConfig{
		URL:            url,
		Index:          "nuxeo-audit",
		RequestTimeout: time.Second,
	}
}

func TestSearch_PostsToIndex(t *testing.T) {
	var gotPath, gotMethod, gotContentType, gotUser string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotUser, _, _ = r.BasicAuth()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"hits":{"total":{"value":1},"hits":[]}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/")
	cfg.Username = "reader"
	cfg.Password = "secret"
	c := New(cfg)

	var resp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
	}
	err := c.Search(context.Background(), map[string]any{"size": 0}, &resp)
	require.NoError(t, err)

	assert.Equal(t, "/"+c.Index()+"/_search", gotPath)
	assert.Equal(t, "nuxeo-audit", c.Index())
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "reader", gotUser)
	assert.Equal(t, float64(0), gotBody["size"])
	assert.Equal(t, 1, resp.Hits.Total.Value)
}

func TestSearch_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"search_phase_execution_exception","reason":"No mapping found for [bogus] in order to sort on"},"status":400}`))
	}))
	defer srv.Close()

	err := New(testConfig(srv.URL)).Search(context.Background(), map[string]any{}, &struct{}{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "search_phase_execution_exception", apiErr.Type)
	assert.Contains(t, err.Error(), "No mapping found for [bogus]")
}

func TestSearch_NoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	}))
	defer srv.Close()

	err := New(testConfig(srv.URL)).Search(context.Background(), map[string]any{}, &struct{}{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "HTTP 503: unavailable")
}

func TestSearch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 20 * time.Millisecond
	err := New(cfg).Search(context.Background(), map[string]any{}, &struct{}{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSearch_DecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>proxy error</html>`))
	}))
	defer srv.Close()

	err := New(testConfig(srv.URL)).Search(context.Background(), map[string]any{}, &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestSearch_CircuitBreakerIgnoresClientErrors(t *testing.T) {
	status := atomic.Int32{}
	status.Store(http.StatusBadRequest)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("es", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		IsFailure:        IsServerFailure,
	})
	c := New(testConfig(srv.URL), WithCircuitBreaker(cb))

	require.Error(t, c.Search(context.Background(), map[string]any{}, &struct{}{}))
	assert.Equal(t, resilience.StateClosed, cb.GetState())

	status.Store(http.StatusInternalServerError)
	require.Error(t, c.Search(context.Background(), map[string]any{}, &struct{}{}))
	assert.Equal(t, resilience.StateOpen, cb.GetState())

	err := c.Search(context.Background(), map[string]any{}, &struct{}{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.Write([]byte(`{"cluster_name":"audit"}`))
	}))
	defer srv.Close()

	assert.NoError(t, New(testConfig(srv.URL)).Ping(context.Background()))
}
