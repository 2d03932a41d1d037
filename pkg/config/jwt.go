package config

import (
	"time"

	"github.com/sosodev/duration"
)

// JWTConfig holds the settings used to verify (and, for tooling, mint) access tokens
type JWTConfig struct {
	Secret            string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	AccessTokenExpiry string `env:"ACCESS_TOKEN_EXPIRY" env-default:"PT1H"`
	Issuer            string `env:"JWT_ISSUER" env-default:"simple-device"`
	Audience          string `env:"JWT_AUDIENCE" env-default:"simple-device"`
}

// ParseAccessTokenExpiry parses the access token expiry duration
func (j JWTConfig) ParseAccessTokenExpiry() (time.Duration, error) {
	return parseDurationISO8601(j.AccessTokenExpiry)
}

// Validate checks the secret and expiry
func (j JWTConfig) Validate() error {
	return Validate(func() ValidationErrors {
		errs := CollectErrors(RequireNonEmpty("JWT_SECRET", j.Secret))
		expiry, err := j.ParseAccessTokenExpiry()
		if err != nil {
			errs = append(errs, ValidationError{Field: "ACCESS_TOKEN_EXPIRY", Message: err.Error()})
		} else if e := RequirePositiveDuration("ACCESS_TOKEN_EXPIRY", expiry); e != nil {
			errs = append(errs, *e)
		}
		return errs
	})
}

// parseDurationISO8601 tries to parse duration as ISO8601 first, then Go duration
func parseDurationISO8601(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}
