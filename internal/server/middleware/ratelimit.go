package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/aegisx/aegisx/internal/apikey"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByAPIKey limits requests per API key prefix. Requests without a
// well-formed key fall back to the client IP. A client that rotates through
// made-up prefixes gets a fresh bucket for each one, so this only bounds
// legitimate keys; the per-IP RateLimit in front of it bounds the client.
func RateLimitByAPIKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(apiKeyRateKey),
	)
}

func apiKeyRateKey(r *http.Request) (string, error) {
	if res := apikey.ValidateFormat(r.Header.Get(APIKeyHeader)); res.Valid {
		return "key:" + res.Prefix, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
