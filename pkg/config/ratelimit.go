package config

import "time"

// RateLimitConfig limits how often registrations may be attempted.
// The device cap bounds how many devices a user holds; this bounds how fast they can probe it.
type RateLimitConfig struct {
	PerIPEnabled    bool    `env:"RATELIMIT_PER_IP_ENABLED" env-default:"true"`
	PerIPCapacity   int     `env:"RATELIMIT_PER_IP_CAPACITY" env-default:"60"`
	PerIPRefillRate float64 `env:"RATELIMIT_PER_IP_REFILL_RATE" env-default:"1"` // tokens per second

	PerUserEnabled    bool    `env:"RATELIMIT_PER_USER_ENABLED" env-default:"true"`
	PerUserCapacity   int     `env:"RATELIMIT_PER_USER_CAPACITY" env-default:"10"`
	PerUserRefillRate float64 `env:"RATELIMIT_PER_USER_REFILL_RATE" env-default:"0.167"` // tokens per second

	BucketTTL      time.Duration `env:"RATELIMIT_BUCKET_TTL" env-default:"1h"`
	IncludeHeaders bool          `env:"RATELIMIT_INCLUDE_HEADERS" env-default:"true"`
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		// Per-IP: ~60 requests per minute
		PerIPEnabled:    true,
		PerIPCapacity:   60,
		PerIPRefillRate: 1,

		// Per-User: 10 per minute
		PerUserEnabled:    true,
		PerUserCapacity:   10,
		PerUserRefillRate: 0.167,

		BucketTTL:      time.Hour,
		IncludeHeaders: true,
	}
}
