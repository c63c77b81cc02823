// Package config loads settings shared by the gateway and the CLI from a
// .env file, an optional YAML file and the environment, in that order of
// increasing precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = zerr.New("invalid configuration")

const (
	BackendMemory   = "memory"
	BackendDisk     = "disk"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

type Config struct {
	Port      string `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	RenderURL string `yaml:"render_url"`
	// AllowedOrigins limits CORS; empty echoes any origin.
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Remote         RemoteConfig  `yaml:"remote"`
	Cache          CacheConfig   `yaml:"cache"`
	Session        SessionConfig `yaml:"session"`
}

type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	GitHubPAT string        `yaml:"github_pat"`
	APIKey    string        `yaml:"api_key"`
}

type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	Dir         string        `yaml:"dir"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	S3          S3Config      `yaml:"s3"`
	LRUSize     int           `yaml:"lru_size"`
	LRUTTL      time.Duration `yaml:"lru_ttl"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxSessions int           `yaml:"max_sessions"`
}

func Default() Config {
	return Config{
		Port:     ":8081",
		Env:      "local",
		LogLevel: "info",
		Remote: RemoteConfig{
			BaseURL: "https://api.gitdiagram.com",
			Timeout: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend: BackendDisk,
			Dir:     ".gitdiagram-cache",
			LRUSize: 512,
			LRUTTL:  10 * time.Minute,
			S3: S3Config{
				Region: "us-east-1",
				Bucket: "gitdiagram-cache",
			},
		},
		Session: SessionConfig{
			TTL:         time.Hour,
			MaxSessions: 1024,
		},
	}
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv)
}

// LoadFrom builds a Config from getenv. GITDIAGRAM_CONFIG may name a YAML
// file whose values sit between the defaults and the environment.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(getenv("GITDIAGRAM_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "read config file"), "path", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "parse config file"), "path", path)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if port := env("PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}
	cfg.Env = firstNonEmpty(env("APP_ENV"), cfg.Env)
	cfg.LogLevel = firstNonEmpty(env("LOG_LEVEL"), cfg.LogLevel)
	cfg.RenderURL = firstNonEmpty(env("RENDER_URL"), cfg.RenderURL)
	if raw := env("CORS_ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitComma(raw)
	}

	cfg.Remote.BaseURL = firstNonEmpty(env("GITDIAGRAM_API_URL"), cfg.Remote.BaseURL)
	cfg.Remote.GitHubPAT = firstNonEmpty(env("GITHUB_PAT"), cfg.Remote.GitHubPAT)
	cfg.Remote.APIKey = firstNonEmpty(env("GITDIAGRAM_API_KEY"), cfg.Remote.APIKey)
	if raw := env("GITDIAGRAM_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return zerr.With(zerr.Wrap(ErrInvalidConfig, "GITDIAGRAM_TIMEOUT is not a duration"), "value", raw)
		}
		cfg.Remote.Timeout = d
	}

	cfg.Cache.Backend = strings.ToLower(firstNonEmpty(env("CACHE_BACKEND"), cfg.Cache.Backend))
	cfg.Cache.Dir = firstNonEmpty(env("CACHE_DIR"), cfg.Cache.Dir)
	cfg.Cache.PostgresDSN = firstNonEmpty(env("CACHE_PG_DSN"), env("DATABASE_URL"), cfg.Cache.PostgresDSN)
	if raw := env("CACHE_LRU_SIZE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return zerr.With(zerr.Wrap(ErrInvalidConfig, "CACHE_LRU_SIZE is not an integer"), "value", raw)
		}
		cfg.Cache.LRUSize = n
	}
	if raw := env("CACHE_LRU_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return zerr.With(zerr.Wrap(ErrInvalidConfig, "CACHE_LRU_TTL is not a duration"), "value", raw)
		}
		cfg.Cache.LRUTTL = d
	}
	applyS3Env(cfg, env)
	return nil
}

func applyS3Env(cfg *Config, env func(string) string) {
	s3 := &cfg.Cache.S3
	local := strings.EqualFold(cfg.Env, "local")
	if local {
		s3.Endpoint = firstNonEmpty(env("CACHE_MINIO_ENDPOINT"), s3.Endpoint, "minio:9000")
	} else {
		s3.Endpoint = firstNonEmpty(env("CACHE_S3_ENDPOINT"), s3.Endpoint)
	}
	s3.Region = firstNonEmpty(env("CACHE_S3_REGION"), s3.Region)
	s3.AccessKey = firstNonEmpty(env("CACHE_S3_ACCESS_KEY"), env("MINIO_ROOT_USER"), s3.AccessKey)
	s3.SecretKey = firstNonEmpty(env("CACHE_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD"), s3.SecretKey)
	s3.Bucket = firstNonEmpty(env("CACHE_S3_BUCKET"), s3.Bucket)
	if local {
		s3.UseSSL = false
		return
	}
	if raw := env("CACHE_S3_USE_SSL"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			s3.UseSSL = v
		}
	}
}

func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendS3:
	case BackendDisk, BackendBadger:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return zerr.With(zerr.Wrap(ErrInvalidConfig, "cache dir is required"), "backend", c.Cache.Backend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.Cache.PostgresDSN) == "" {
			return zerr.Wrap(ErrInvalidConfig, "CACHE_PG_DSN is required for the postgres backend")
		}
	default:
		return zerr.With(zerr.Wrap(ErrInvalidConfig, "unknown cache backend"), "backend", c.Cache.Backend)
	}
	if c.Remote.Timeout <= 0 {
		return zerr.With(zerr.Wrap(ErrInvalidConfig, "remote timeout must be positive"), "timeout", c.Remote.Timeout.String())
	}
	return nil
}

func normalizePort(port string) string {
	if strings.HasPrefix(port, ":") || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
