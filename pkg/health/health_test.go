package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	ok     = pingFunc(func(context.Context) error { return nil })
	broken = pingFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestRun_WorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"no checks", nil, StatusUp},
		{"all up", map[string]Check{"elasticsearch": PingCheck(ok), "redis": DegradedCheck(ok)}, StatusUp},
		{"optional down", map[string]Check{"elasticsearch": PingCheck(ok), "redis": DegradedCheck(broken)}, StatusDegraded},
		{"required down", map[string]Check{"elasticsearch": PingCheck(broken), "redis": DegradedCheck(broken)}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, len(tt.checks))
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("redis", DegradedCheck(broken))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "connection refused", report.Components["redis"].Message)

	c.Register("elasticsearch", PingCheck(broken))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
