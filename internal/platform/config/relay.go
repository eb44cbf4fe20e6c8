package config

import (
	"strings"
	"time"
)

// Relay is the server configuration read from the environment.
type Relay struct {
	Port      string
	LogLevel  string
	LogFormat string

	RoutePrefix     string
	VendorBaseURL   string
	UpstreamTimeout time.Duration
	UpstreamRPS     float64
	UpstreamBurst   int

	RefreshInterval time.Duration
	SessionTTL      time.Duration

	SessionStore  string
	SessionDBPath string
	SessionFile   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginRateLimit int
}

// FromEnv reads Relay from the environment, applying defaults.
func FromEnv() Relay {
	return Relay{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		RoutePrefix:     normalizePrefix(GetEnv("ROUTE_PREFIX", "/tv")),
		VendorBaseURL:   strings.TrimRight(GetEnv("VENDOR_BASE_URL", ""), "/"),
		UpstreamTimeout: GetEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		UpstreamRPS:     GetEnvFloat("UPSTREAM_RPS", 0),
		UpstreamBurst:   GetEnvInt("UPSTREAM_BURST", 10),

		RefreshInterval: GetEnvDuration("REFRESH_INTERVAL", 45*time.Minute),
		SessionTTL:      GetEnvDuration("SESSION_TTL", time.Hour),

		SessionStore:  strings.ToLower(GetEnv("SESSION_STORE", "sqlite")),
		SessionDBPath: GetEnv("SESSION_DB_PATH", "data/creds.db"),
		SessionFile:   GetEnv("SESSION_FILE", "data/session.json"),
		RedisAddr:     GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),

		LoginRateLimit: GetEnvInt("LOGIN_RATE_LIMIT", 10),
	}
}

// normalizePrefix returns "" or a path starting with "/" and not ending with one.
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
