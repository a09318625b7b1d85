package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ServerAddr   string
	TrustProxy   bool
	DNTRespect   bool
	MaxBodyBytes int64  // bytes for /collect payload
	IPHashSecret string // loaded from IP_HASH_SECRET; nothing reads it, client IPs are stored unhashed
	Outputs      []string // enabled sinks: log, kafka, postgres

	// Reverse-proxy middleware mode
	MiddlewareMode      bool
	ForwardDestination  string
	AutoInjectPixel     bool

	// HMAC request authentication
	HMACSecret      string
	HMACPublicKey   string
	HMACRequire     bool

	// Detection engine (internal/detect)
	DetectEnabled           bool
	DetectReportIntervalMs  int64
	DetectMinReportScore    int64
	DetectSessionKey        string
	DetectDebug             bool
	DetectSessionMaxAgeMs   int64
	DetectReapIntervalMs    int64
	DetectPGDSN             string
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
		DNTRespect:   getBool("DNT_RESPECT", true),
		MaxBodyBytes: getInt64("MAX_BODY_BYTES", 1<<20), // 1 MiB default
		IPHashSecret: getOr("IP_HASH_SECRET", ""),       // not used for hashing anywhere
		Outputs:      getStringSlice("OUTPUTS", "log"),  // default to log only

		MiddlewareMode:     getBool("MIDDLEWARE_MODE", false),
		ForwardDestination: getOr("FORWARD_DESTINATION", ""),
		AutoInjectPixel:    getBool("AUTO_INJECT_PIXEL", false),

		HMACSecret:    getOr("HMAC_SECRET", ""),
		HMACPublicKey: getOr("HMAC_PUBLIC_KEY", ""),
		HMACRequire:   getBool("HMAC_REQUIRE", false),

		DetectEnabled:          getBool("DETECT_ENABLED", true),
		DetectReportIntervalMs: getInt64("DETECT_REPORT_INTERVAL_MS", 30000),
		DetectMinReportScore:   getInt64("DETECT_MIN_REPORT_SCORE", 10),
		DetectSessionKey:       getOr("DETECT_SESSION_KEY", ""),
		DetectDebug:            getBool("DETECT_DEBUG", false),
		DetectSessionMaxAgeMs:  getInt64("DETECT_SESSION_MAX_AGE_MS", 1_800_000),
		DetectReapIntervalMs:   getInt64("DETECT_REAP_INTERVAL_MS", 60000),
		DetectPGDSN:            getOr("DETECT_PG_DSN", ""),
	}
}
