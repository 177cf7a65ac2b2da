package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	MaxBodyBytes int64  // bytes for /collect payload
	IPHashSecret string // daily salt secret seed; if empty, IPs are not hashed

	ChallengeSecret string // HMAC key for challenge tokens; required

	Outputs []string // enabled sinks: log, kafka

	CacheBackend string // memory or redis
	RedisAddr    string
	RedisDB      int64

	PostgresDSN string // if empty, the in-memory repository is used

	// MaxMind database paths. Empty disables the MaxMind geo source.
	GeoIPCityDB string
	GeoIPASNDB  string

	// HTTP geolocation endpoint, with %s substituted by the IP.
	// Empty disables the HTTP geo source.
	GeoHTTPEndpoint string
	GeoHTTPTrust    int64 // 0-100

	SweepInterval   time.Duration // honeypot/challenge session sweeps
	ProviderTimeout time.Duration // per-detector deadline in the evaluator
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr:   getOr("SERVER_ADDR", ":19890"),
		TrustProxy:   getBool("TRUST_PROXY", false),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		IPHashSecret: getOr("IP_HASH_SECRET", ""),       // set to enable hashing

		ChallengeSecret: getOr("CHALLENGE_SECRET", ""),

		Outputs: getStringSlice("OUTPUTS", "log"), // default to log only

		CacheBackend: strings.ToLower(getOr("CACHE_BACKEND", "memory")),
		RedisAddr:    getOr("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getInt64("REDIS_DB", 0),

		PostgresDSN: getOr("PG_DSN", ""),

		GeoIPCityDB: getOr("GEOIP_CITY_DB", ""),
		GeoIPASNDB:  getOr("GEOIP_ASN_DB", ""),

		GeoHTTPEndpoint: getOr("GEO_HTTP_ENDPOINT", ""),
		GeoHTTPTrust:    getInt64("GEO_HTTP_TRUST", 60),

		SweepInterval:   getDuration("SWEEP_INTERVAL", 5*time.Minute),
		ProviderTimeout: getDuration("PROVIDER_TIMEOUT", 10*time.Second),
	}
}

// Validate rejects configurations the service cannot run with. Secrets are
// checked at startup rather than first use so a bad deploy fails immediately.
func (c Config) Validate() error {
	if c.ChallengeSecret == "" {
		return errors.New("CHALLENGE_SECRET is required")
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return errors.New("CACHE_BACKEND must be memory or redis")
	}
	if c.GeoHTTPTrust < 0 || c.GeoHTTPTrust > 100 {
		return errors.New("GEO_HTTP_TRUST must be in 0..100")
	}
	return nil
}
