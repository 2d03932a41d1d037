package config

import (
	"time"

	"github.com/tendant/simple-device/pkg/fingerprint"
)

// DeviceConfig holds the device cap, storage choice and similarity tuning.
// The similarity numbers are empirical; they live here so they can be tuned without a release.
type DeviceConfig struct {
	Cap         int           `env:"DEVICE_CAP" env-default:"2"`
	Persistence string        `env:"DEVICE_PERSISTENCE" env-default:"memory"`
	DataDir     string        `env:"DEVICE_DATA_DIR" env-default:"./data"`
	LockTimeout time.Duration `env:"DEVICE_LOCK_TIMEOUT" env-default:"5s"`

	SimilarityThreshold float64 `env:"DEVICE_SIMILARITY_THRESHOLD" env-default:"0.7"`
	ColorDepthTolerance int     `env:"DEVICE_COLOR_DEPTH_TOLERANCE" env-default:"8"`
	PartialScreenFactor float64 `env:"DEVICE_PARTIAL_SCREEN_FACTOR" env-default:"0.8"`
	UAOSOnlyFactor      float64 `env:"DEVICE_UA_OS_ONLY_FACTOR" env-default:"0.7"`
	UABrowserOnlyFactor float64 `env:"DEVICE_UA_BROWSER_ONLY_FACTOR" env-default:"0.4"`

	WeightPlatform            float64 `env:"DEVICE_WEIGHT_PLATFORM" env-default:"0.20"`
	WeightScreen              float64 `env:"DEVICE_WEIGHT_SCREEN" env-default:"0.20"`
	WeightUserAgent           float64 `env:"DEVICE_WEIGHT_USER_AGENT" env-default:"0.20"`
	WeightTimezone            float64 `env:"DEVICE_WEIGHT_TIMEZONE" env-default:"0.10"`
	WeightLanguage            float64 `env:"DEVICE_WEIGHT_LANGUAGE" env-default:"0.10"`
	WeightHardwareConcurrency float64 `env:"DEVICE_WEIGHT_HARDWARE_CONCURRENCY" env-default:"0.04"`
	WeightCookieEnabled       float64 `env:"DEVICE_WEIGHT_COOKIE_ENABLED" env-default:"0.04"`
	WeightVendor              float64 `env:"DEVICE_WEIGHT_VENDOR" env-default:"0.04"`
	WeightMaxTouchPoints      float64 `env:"DEVICE_WEIGHT_MAX_TOUCH_POINTS" env-default:"0.04"`
	WeightDoNotTrack          float64 `env:"DEVICE_WEIGHT_DO_NOT_TRACK" env-default:"0.04"`
}

// PersistenceTypes lists the accepted DEVICE_PERSISTENCE values; noop and none discard writes
var PersistenceTypes = []string{"postgres", "postgresql", "file", "memory", "inmem", "noop", "none"}

// DefaultDeviceConfig mirrors the env defaults
func DefaultDeviceConfig() DeviceConfig {
	w := fingerprint.DefaultWeights()
	return DeviceConfig{
		Cap:         2,
		Persistence: "memory",
		DataDir:     "./data",
		LockTimeout: 5 * time.Second,

		SimilarityThreshold: fingerprint.DefaultThreshold,
		ColorDepthTolerance: fingerprint.DefaultColorDepthTolerance,
		PartialScreenFactor: fingerprint.DefaultPartialScreenFactor,
		UAOSOnlyFactor:      fingerprint.DefaultUAOSOnlyFactor,
		UABrowserOnlyFactor: fingerprint.DefaultUABrowserOnlyFactor,

		WeightPlatform:            w.Platform,
		WeightScreen:              w.Screen,
		WeightUserAgent:           w.UserAgent,
		WeightTimezone:            w.Timezone,
		WeightLanguage:            w.Language,
		WeightHardwareConcurrency: w.HardwareConcurrency,
		WeightCookieEnabled:       w.CookieEnabled,
		WeightVendor:              w.Vendor,
		WeightMaxTouchPoints:      w.MaxTouchPoints,
		WeightDoNotTrack:          w.DoNotTrack,
	}
}

// Scorer builds the similarity scorer described by the config
func (c DeviceConfig) Scorer() *fingerprint.Scorer {
	return &fingerprint.Scorer{
		Weights: fingerprint.Weights{
			Platform:            c.WeightPlatform,
			Screen:              c.WeightScreen,
			UserAgent:           c.WeightUserAgent,
			Timezone:            c.WeightTimezone,
			Language:            c.WeightLanguage,
			HardwareConcurrency: c.WeightHardwareConcurrency,
			CookieEnabled:       c.WeightCookieEnabled,
			Vendor:              c.WeightVendor,
			MaxTouchPoints:      c.WeightMaxTouchPoints,
			DoNotTrack:          c.WeightDoNotTrack,
		},
		Threshold:           c.SimilarityThreshold,
		ColorDepthTolerance: c.ColorDepthTolerance,
		PartialScreenFactor: c.PartialScreenFactor,
		UAOSOnlyFactor:      c.UAOSOnlyFactor,
		UABrowserOnlyFactor: c.UABrowserOnlyFactor,
	}
}

// Validate checks the cap, storage settings and similarity tuning
func (c DeviceConfig) Validate() error {
	return Validate(func() ValidationErrors {
		errs := CollectErrors(
			RequirePositive("DEVICE_CAP", c.Cap),
			RequireOneOf("DEVICE_PERSISTENCE", c.Persistence, PersistenceTypes),
			RequirePositiveDuration("DEVICE_LOCK_TIMEOUT", c.LockTimeout),
			RequireFraction("DEVICE_SIMILARITY_THRESHOLD", c.SimilarityThreshold, 0, 1),
			RequireNonNegative("DEVICE_COLOR_DEPTH_TOLERANCE", c.ColorDepthTolerance),
		)
		if c.Persistence == "file" {
			if e := RequireNonEmpty("DEVICE_DATA_DIR", c.DataDir); e != nil {
				errs = append(errs, *e)
			}
		}
		if err := c.Scorer().Validate(); err != nil {
			errs = append(errs, ValidationError{Field: "DEVICE_WEIGHT_*", Message: err.Error()})
		}
		return errs
	})
}
