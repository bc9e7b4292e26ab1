package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingJWTSecret is returned by Validate when no signing secret is configured.
var ErrMissingJWTSecret = errors.New("IMGSTORE_JWT_SECRET is not set")

// Storage drivers understood by the storage package.
const (
	StorageDriverLocal = "local"
	StorageDriverMinIO = "minio"
)

// Config aggregates runtime configuration for the image store API.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	MinIO     MinIOConfig
	Storage   StorageConfig
	Upload    UploadConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
	Reconcile ReconcileConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed. Empty means the socket peer is the client.
	TrustedProxies []string
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// StorageConfig selects where bucket directories live.
type StorageConfig struct {
	Driver string
	Root   string
}

// UploadConfig bounds what the item store accepts.
type UploadConfig struct {
	// PublicBaseURL prefixes every item URL and always ends with a slash.
	PublicBaseURL     string
	MaxBytes          int64
	AcceptedMIMETypes []string
}

// Accepts reports whether mimeType is in the accepted set.
func (u UploadConfig) Accepts(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, accepted := range u.AcceptedMIMETypes {
		if accepted == mimeType {
			return true
		}
	}
	return false
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	BcryptCost  int
	// RatePerSecond and Burst throttle /auth requests per client address.
	RatePerSecond float64
	Burst         int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// ReconcileConfig drives the background disk/database sweep.
type ReconcileConfig struct {
	Interval      time.Duration
	TTL           time.Duration
	RemoveOrphans bool
}

// Load reads configuration values from environment variables, applying defaults.
// Call Validate before using the result.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:           getString("IMGSTORE_API_HOST", "0.0.0.0"),
			Port:           getInt("IMGSTORE_API_PORT", 3001),
			ReadTimeout:    getDuration("IMGSTORE_API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDuration("IMGSTORE_API_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getDuration("IMGSTORE_API_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies: getList("IMGSTORE_TRUSTED_PROXIES", nil),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "imgstore_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "imgstore"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "imgstore"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "imgstore"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getString("IMGSTORE_STORAGE_DRIVER", StorageDriverLocal)),
			Root:   getString("IMGSTORE_STORAGE_ROOT", "./data/upload/img"),
		},
		Upload: UploadConfig{
			PublicBaseURL:     normalizeBaseURL(getString("IMGSTORE_API_URL", "http://localhost:3001/")),
			MaxBytes:          getInt64("IMGSTORE_UPLOAD_MAX_BYTES", 1<<20),
			AcceptedMIMETypes: getList("IMGSTORE_ACCEPTED_MIME_TYPES", []string{"image/webp"}),
		},
		Auth: loadAuthConfig(),
		Metrics: MetricsConfig{
			PrometheusPath: getString("IMGSTORE_METRICS_PATH", "/metrics"),
		},
		Reconcile: ReconcileConfig{
			Interval:      getDuration("IMGSTORE_RECONCILE_INTERVAL", time.Hour),
			TTL:           getDuration("IMGSTORE_RECONCILE_TTL", 24*time.Hour),
			RemoveOrphans: getBool("IMGSTORE_RECONCILE_REMOVE_ORPHANS", false),
		},
	}

	return cfg, nil
}

// Validate checks settings the process cannot run without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.TokenSecret) == "" {
		return ErrMissingJWTSecret
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
		if strings.TrimSpace(c.Storage.Root) == "" {
			return errors.New("IMGSTORE_STORAGE_ROOT must not be empty")
		}
	case StorageDriverMinIO:
		if c.MinIO.Bucket == "" {
			return errors.New("MINIO_BUCKET must not be empty")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("IMGSTORE_TRUSTED_PROXIES: %q is not an IP or CIDR", proxy)
			}
		}
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("IMGSTORE_UPLOAD_MAX_BYTES must be positive")
	}
	if len(c.Upload.AcceptedMIMETypes) == 0 {
		return errors.New("IMGSTORE_ACCEPTED_MIME_TYPES must not be empty")
	}
	return nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}

func loadAuthConfig() AuthConfig {
	cost := getInt("IMGSTORE_AUTH_BCRYPT_COST", 10)
	if cost < 4 || cost > 31 {
		cost = 10
	}

	return AuthConfig{
		TokenSecret:   getString("IMGSTORE_JWT_SECRET", ""),
		TokenTTL:      getDuration("IMGSTORE_JWT_TTL", 12*time.Hour),
		BcryptCost:    cost,
		RatePerSecond: getFloat("IMGSTORE_AUTH_RATE", 5),
		Burst:         getInt("IMGSTORE_AUTH_BURST", 10),
	}
}
