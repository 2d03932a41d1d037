package config

// EmailConfig holds SMTP settings for administrator notices
type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     uint16 `env:"EMAIL_PORT" env-default:"1025"`
	Username string `env:"EMAIL_USERNAME" env-default:"noreply@example.com"`
	Password string `env:"EMAIL_PASSWORD" env-default:"pwd"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
	// AdminAddress receives a notice whenever a user is blocked; empty disables notices
	AdminAddress string `env:"DEVICE_ADMIN_EMAIL"`
}

// NoticesEnabled reports whether blocked-user notices should be sent
func (e EmailConfig) NoticesEnabled() bool {
	return e.AdminAddress != ""
}

// Validate checks the addresses when notices are enabled
func (e EmailConfig) Validate() error {
	return Validate(func() ValidationErrors {
		return CollectErrors(
			WhenSet(e.AdminAddress, func() *ValidationError { return RequireValidEmail("DEVICE_ADMIN_EMAIL", e.AdminAddress) }),
			WhenSet(e.AdminAddress, func() *ValidationError { return RequireValidEmail("EMAIL_FROM", e.From) }),
			WhenSet(e.AdminAddress, func() *ValidationError { return RequireNonEmpty("EMAIL_HOST", e.Host) }),
		)
	})
}
