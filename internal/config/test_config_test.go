package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, BackendDisk, cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Remote.Timeout)
	assert.Equal(t, "minio:9000", cfg.Cache.S3.Endpoint)
	assert.False(t, cfg.Cache.S3.UseSSL)
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := LoadFrom(envMap(map[string]string{
		"PORT":                 "9090",
		"APP_ENV":              "production",
		"GITDIAGRAM_API_URL":   "http://localhost:8000",
		"GITDIAGRAM_TIMEOUT":   "30s",
		"GITHUB_PAT":           "ghp_x",
		"CACHE_BACKEND":        "S3",
		"CACHE_S3_ENDPOINT":    "s3.example.com",
		"CACHE_S3_ACCESS_KEY":  "ak",
		"MINIO_ROOT_PASSWORD":  "sk",
		"CACHE_S3_USE_SSL":     "true",
		"CACHE_LRU_SIZE":       "64",
		"CACHE_LRU_TTL":        "1m",
		"CORS_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, "http://localhost:8000", cfg.Remote.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, "ghp_x", cfg.Remote.GitHubPAT)
	assert.Equal(t, BackendS3, cfg.Cache.Backend)
	assert.Equal(t, "s3.example.com", cfg.Cache.S3.Endpoint)
	assert.Equal(t, "ak", cfg.Cache.S3.AccessKey)
	assert.Equal(t, "sk", cfg.Cache.S3.SecretKey)
	assert.True(t, cfg.Cache.S3.UseSSL)
	assert.Equal(t, 64, cfg.Cache.LRUSize)
	assert.Equal(t, time.Minute, cfg.Cache.LRUTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestYAMLSitsBetweenDefaultsAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitdiagram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
remote:
  base_url: http://from-yaml
  timeout: 2m
cache:
  backend: badger
  dir: /var/lib/gitdiagram
session:
  ttl: 30m
`), 0o600))

	cfg, err := LoadFrom(envMap(map[string]string{
		"GITDIAGRAM_CONFIG":  path,
		"GITDIAGRAM_API_URL": "http://from-env",
	}))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http://from-env", cfg.Remote.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Remote.Timeout)
	assert.Equal(t, BackendBadger, cfg.Cache.Backend)
	assert.Equal(t, "/var/lib/gitdiagram", cfg.Cache.Dir)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 1024, cfg.Session.MaxSessions)
}

func TestInvalidValues(t *testing.T) {
	for name, env := range map[string]map[string]string{
		"backend":  {"CACHE_BACKEND": "redis"},
		"postgres": {"CACHE_BACKEND": "postgres"},
		"timeout":  {"GITDIAGRAM_TIMEOUT": "soon"},
		"lru size": {"CACHE_LRU_SIZE": "many"},
		"negative": {"GITDIAGRAM_TIMEOUT": "-1s"},
	} {
		_, err := LoadFrom(envMap(env))
		assert.ErrorIs(t, err, ErrInvalidConfig, name)
	}

	_, err := LoadFrom(envMap(map[string]string{"GITDIAGRAM_CONFIG": "/does/not/exist.yaml"}))
	assert.Error(t, err)
}
