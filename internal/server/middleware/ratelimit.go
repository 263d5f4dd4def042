package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
// A non-positive limit disables the middleware.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitByBearer limits requests per bearer token to the specified number
// per minute. Requests without a token share the caller's IP bucket so they
// still reach the handler's own 401.
func RateLimitByBearer(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tok := BearerToken(r); tok != "" {
				return "bearer:" + tok, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}

func passthrough(next http.Handler) http.Handler { return next }
