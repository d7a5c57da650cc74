// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string
	GRPCAddr string

	DatabaseURL     string
	SeedDefaultData bool

	RBAC bool

	JWTSecret          string
	RefreshTokenSecret string
	JWTIssuer          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	BcryptCost         int
	CookieSecure       bool

	UseGoogleAuth      bool
	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	RateLimiter        bool
	RateLimitBurst     int
	RateLimitPerSecond float64
	RedisURL           string

	CORSOrigins    []string
	TrustedProxies []string
}

// LoadDotEnv reads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load() Config {
	return Config{
		AppEnv:   getenv("APP_ENV", "development"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		HTTPAddr: httpAddr(),
		GRPCAddr: grpcAddr(),

		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SeedDefaultData: getenvBool("SEED_DEFAULT_DATA", true),

		RBAC: getenvBool("RBAC", false),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		RefreshTokenSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
		JWTIssuer:          os.Getenv("JWT_ISSUER"),
		AccessTokenTTL:     getenvSeconds("JWT_EXPIRATION", time.Hour),
		RefreshTokenTTL:    getenvSeconds("REFRESH_TOKEN_EXPIRATION", 7*24*time.Hour),
		BcryptCost:         getenvInt("BCRYPT_COST", 10),
		CookieSecure:       getenvBool("COOKIE_SECURE", false),

		UseGoogleAuth:      getenvBool("USE_GOOGLE_AUTH", false),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),

		RateLimiter:        getenvBool("RATE_LIMITER", true),
		RateLimitBurst:     getenvInt("RATE_LIMIT_BURST", 20),
		RateLimitPerSecond: getenvFloat("RATE_LIMIT_PER_SECOND", 10),
		RedisURL:           os.Getenv("REDIS_URL"),

		CORSOrigins:    getenvList("CORS_ORIGINS", []string{"http://localhost:80", "http://localhost:3000"}),
		TrustedProxies: getenvList("TRUSTED_PROXIES", nil),
	}
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if strings.TrimSpace(c.RefreshTokenSecret) == "" {
		errs = append(errs, errors.New("REFRESH_TOKEN_SECRET is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token expirations must be positive"))
	}
	if c.UseGoogleAuth && (c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleCallbackURL == "") {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_CALLBACK_URL are required when USE_GOOGLE_AUTH is true"))
	}
	if c.RateLimiter && (c.RateLimitBurst <= 0 || c.RateLimitPerSecond <= 0) {
		errs = append(errs, errors.New("rate limit burst and rate must be positive"))
	}
	return errors.Join(errs...)
}

// UsesMemoryStore reports whether no database is configured.
func (c Config) UsesMemoryStore() bool { return strings.TrimSpace(c.DatabaseURL) == "" }

func httpAddr() string {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		return v
	}
	if port := strings.TrimSpace(os.Getenv("API_PORT")); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return ":3000"
}

// grpcAddr defaults to :9090; an explicitly empty GRPC_ADDR disables the listener.
func grpcAddr() string {
	if v, ok := os.LookupEnv("GRPC_ADDR"); ok {
		return strings.TrimSpace(v)
	}
	return ":9090"
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	case "0", "f", "false", "n", "no", "off":
		return false
	default:
		return fallback
	}
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getenvSeconds accepts a plain number of seconds or a Go duration string.
func getenvSeconds(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(val); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
