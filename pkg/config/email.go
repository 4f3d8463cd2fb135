package config

// EmailConfig holds SMTP settings for outbound verification emails
type EmailConfig struct {
	Host     string `env:"IDP_EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"IDP_EMAIL_PORT" env-default:"1025"`
	Username string `env:"IDP_EMAIL_USERNAME" env-default:""`
	Password string `env:"IDP_EMAIL_PASSWORD" env-default:""`
	From     string `env:"IDP_EMAIL_FROM" env-default:"noreply@classlane.example"`
	TLS      bool   `env:"IDP_EMAIL_TLS" env-default:"false"`
}
