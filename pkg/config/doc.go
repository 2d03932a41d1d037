// Package config provides configuration loading and validation for simple-device.
//
// Every setting is a struct field with cleanenv env tags. Load reads an optional
// .env file with godotenv and then fills the struct from the environment.
//
// # Basic Usage
//
//	type Config struct {
//		Device   config.DeviceConfig
//		Database config.DatabaseConfig
//		Redis    config.RedisConfig
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg, ".env"); err != nil {
//		return err
//	}
//	if err := cfg.Device.Validate(); err != nil {
//		return err
//	}
//	scorer := cfg.Device.Scorer()
//
// # Configuration Validation
//
// Validators return a *ValidationError or nil; CollectErrors gathers them and
// Validate joins the results into a single ValidationErrors error:
//
//	return config.Validate(func() config.ValidationErrors {
//		return config.CollectErrors(
//			config.RequirePositive("DEVICE_CAP", c.Cap),
//			config.RequireOneOf("DEVICE_PERSISTENCE", c.Persistence, config.PersistenceTypes),
//		)
//	})
//
// # Device Tuning
//
// DEVICE_CAP, DEVICE_SIMILARITY_THRESHOLD and the DEVICE_WEIGHT_* variables map
// onto fingerprint.Scorer. The weights must sum to 1.
package config
