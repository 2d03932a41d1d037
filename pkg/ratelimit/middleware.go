package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/jwtauth/v5"
	"github.com/tendant/simple-device/pkg/config"
	apperrors "github.com/tendant/simple-device/pkg/errors"
)

// Middleware holds the rate limiting middleware state
type Middleware struct {
	config      config.RateLimitConfig
	ipLimiter   *RateLimiter
	userLimiter *RateLimiter
}

// NewMiddleware creates a new rate limiting middleware
func NewMiddleware(cfg config.RateLimitConfig) *Middleware {
	m := &Middleware{config: cfg}

	if cfg.PerIPEnabled {
		m.ipLimiter = NewRateLimiter(cfg.PerIPCapacity, cfg.PerIPRefillRate, cfg.BucketTTL)
	}

	if cfg.PerUserEnabled {
		m.userLimiter = NewRateLimiter(cfg.PerUserCapacity, cfg.PerUserRefillRate, cfg.BucketTTL)
	}

	return m
}

// Handler returns the rate limiting middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r)
		if m.ipLimiter != nil && ip != "" && !m.ipLimiter.Allow(ip) {
			m.rateLimitExceeded(w, r, "ip", m.config.PerIPRefillRate)
			return
		}

		// Per-user limit applies only once a verified token is in the context
		userID := getUserID(r)
		if m.userLimiter != nil && userID != "" && !m.userLimiter.Allow(userID) {
			m.rateLimitExceeded(w, r, "user", m.config.PerUserRefillRate)
			return
		}

		if m.config.IncludeHeaders {
			m.addRateLimitHeaders(w, ip, userID)
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitExceeded handles rate limit exceeded responses
func (m *Middleware) rateLimitExceeded(w http.ResponseWriter, r *http.Request, limitType string, refillRate float64) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", getClientIP(r),
		"user", getUserID(r),
		"path", r.URL.Path,
		"method", r.Method,
	)

	retryAfter := retryAfterSeconds(refillRate)
	w.Header().Set("Retry-After", retryAfter)
	apperrors.Render(w, r, apperrors.RateLimitExceeded(retryAfter).WithDetail("type", limitType))
}

// retryAfterSeconds is the time for one token to come back, rounded up
func retryAfterSeconds(refillRate float64) string {
	if refillRate <= 0 {
		return "60"
	}
	secs := int(1/refillRate + 0.999)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// addRateLimitHeaders adds rate limit information headers
func (m *Middleware) addRateLimitHeaders(w http.ResponseWriter, ip, userID string) {
	if m.ipLimiter != nil && ip != "" {
		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.config.PerIPCapacity))
	}

	if m.userLimiter != nil && userID != "" {
		w.Header().Set("X-RateLimit-Limit-User", strconv.Itoa(m.config.PerUserCapacity))
	}
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is in format "IP:port", we only want the IP
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}

	return addr
}

// getUserID extracts the user ID from JWT token in the request context
func getUserID(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || claims == nil {
		return ""
	}

	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}

	return ""
}

// GetStats returns statistics about all rate limiters
func (m *Middleware) GetStats() map[string]Stats {
	stats := make(map[string]Stats)

	if m.ipLimiter != nil {
		stats["ip"] = m.ipLimiter.GetStats()
	}

	if m.userLimiter != nil {
		stats["user"] = m.userLimiter.GetStats()
	}

	return stats
}

// Reset resets rate limits for a specific IP or user
func (m *Middleware) Reset(key string) {
	if m.ipLimiter != nil {
		m.ipLimiter.Reset(key)
	}
	if m.userLimiter != nil {
		m.userLimiter.Reset(key)
	}
}

// Close stops the background cleanup of all limiters
func (m *Middleware) Close() {
	if m.ipLimiter != nil {
		m.ipLimiter.Close()
	}
	if m.userLimiter != nil {
		m.userLimiter.Close()
	}
}
