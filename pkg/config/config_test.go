package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, "http://localhost:9200", cfg.Elasticsearch.URL)
	assert.Equal(t, 30*time.Second, cfg.Elasticsearch.RequestTimeout)
	assert.Equal(t, 100, cfg.API.DefaultPageSize)
	assert.Equal(t, 1000, cfg.API.HistoryLimit)
	assert.Equal(t, 100, cfg.API.CatalogSize)
	assert.Equal(t, "eventDate:asc", cfg.API.DefaultSort)
	assert.Equal(t, "audit-lookups", cfg.Kafka.Topics.AuditLookups)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8088
  environment: production
elasticsearch:
  url: http://es.internal:9200
  index: nuxeo2023-audit
  requestTimeout: 5s
api:
  defaultPageSize: 20
  maxPageSize: 200
  historyLimit: 500
redis:
  enabled: true
  cacheTTL: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, "http://es.internal:9200", cfg.Elasticsearch.URL)
	assert.Equal(t, "nuxeo2023-audit", cfg.Elasticsearch.Index)
	assert.Equal(t, 5*time.Second, cfg.Elasticsearch.RequestTimeout)
	assert.Equal(t, 20, cfg.API.DefaultPageSize)
	assert.Equal(t, 500, cfg.API.HistoryLimit)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL)
	// untouched sections keep defaults
	assert.Equal(t, 100, cfg.API.CatalogSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUDITLENS_SERVER_PORT", "4000")
	t.Setenv("AUDITLENS_ENVIRONMENT", "production")
	t.Setenv("AUDITLENS_ELASTICSEARCH_URL", "http://10.0.0.1:9200")
	t.Setenv("AUDITLENS_ELASTICSEARCH_INDEX", "audit-2024")
	t.Setenv("AUDITLENS_ELASTICSEARCH_TIMEOUT", "2s")
	t.Setenv("AUDITLENS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUDITLENS_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, "http://10.0.0.1:9200", cfg.Elasticsearch.URL)
	assert.Equal(t, "audit-2024", cfg.Elasticsearch.Index)
	assert.Equal(t, 2*time.Second, cfg.Elasticsearch.RequestTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty index", "elasticsearch:\n  index: \"\"\n"},
		{"page size above max", "api:\n  defaultPageSize: 50\n  maxPageSize: 10\n"},
		{"zero history limit", "api:\n  historyLimit: 0\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
