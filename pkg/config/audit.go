package config

import "time"

// AuditConfig configures the admin audit trail. Events always go to the log;
// they are also appended to a redis stream when redis is configured.
type AuditConfig struct {
	Enabled      bool          `env:"DEVICE_AUDIT_ENABLED" env-default:"true"`
	Source       string        `env:"DEVICE_AUDIT_SOURCE" env-default:"simple-device"`
	EventType    string        `env:"DEVICE_AUDIT_EVENT_TYPE" env-default:"audit.device.admin"`
	Stream       string        `env:"DEVICE_AUDIT_STREAM" env-default:"device:audit"`
	StreamMaxLen int64         `env:"DEVICE_AUDIT_STREAM_MAXLEN" env-default:"10000"`
	SendTimeout  time.Duration `env:"DEVICE_AUDIT_SEND_TIMEOUT" env-default:"5s"`
}
