package config

import "time"

// RedisConfig configures the optional blocked-user cache; an empty URL disables it
type RedisConfig struct {
	URL        string        `env:"DEVICE_REDIS_URL"`
	BlockedTTL time.Duration `env:"DEVICE_REDIS_BLOCKED_TTL" env-default:"24h"`
}

// Enabled reports whether a redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// Validate checks the URL and TTL when the cache is enabled
func (r RedisConfig) Validate() error {
	return Validate(func() ValidationErrors {
		return CollectErrors(
			WhenSet(r.URL, func() *ValidationError { return RequireValidURL("DEVICE_REDIS_URL", r.URL) }),
			WhenSet(r.URL, func() *ValidationError { return RequirePositiveDuration("DEVICE_REDIS_BLOCKED_TTL", r.BlockedTTL) }),
		)
	})
}
