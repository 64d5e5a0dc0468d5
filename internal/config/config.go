package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config agrupa toda la configuración del servicio.
// Se carga desde env vars (y .env opcional para dev local).
type Config struct {
	Port      string `mapstructure:"PORT"`
	Env       string `mapstructure:"ENV"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Si DB_DSN está vacío, el router usa repos in-memory (modo dev).
	DBDSN string `mapstructure:"DB_DSN"`

	// Token QR de emergencia: límites de vigencia en horas.
	QRMinHours     int    `mapstructure:"QR_MIN_HOURS"`
	QRMaxHours     int    `mapstructure:"QR_MAX_HOURS"`
	QRDefaultHours int    `mapstructure:"QR_DEFAULT_HOURS"`
	EmergencyBase  string `mapstructure:"EMERGENCY_BASE_URL"`

	// Retención del audit log en años.
	AuditRetentionYears int `mapstructure:"AUDIT_RETENTION_YEARS"`

	// Servicio externo de cifrado simétrico (opcional).
	CipherURL    string `mapstructure:"CIPHER_URL"`
	CipherAPIKey string `mapstructure:"CIPHER_API_KEY"`

	// IdP externo para verificar tokens de sesión (opcional; nil => modo dev).
	AuthVerifyURL string `mapstructure:"AUTH_VERIFY_URL"`
	AuthAPIKey    string `mapstructure:"AUTH_API_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("QR_MIN_HOURS", 1)
	v.SetDefault("QR_MAX_HOURS", 168)
	v.SetDefault("QR_DEFAULT_HOURS", 24)
	v.SetDefault("EMERGENCY_BASE_URL", "http://localhost:8080/public/emergency")
	v.SetDefault("AUDIT_RETENTION_YEARS", 7)

	// Bind explícito para que Unmarshal vea las env vars.
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "LOG_FORMAT", "DB_DSN",
		"QR_MIN_HOURS", "QR_MAX_HOURS", "QR_DEFAULT_HOURS", "EMERGENCY_BASE_URL",
		"AUDIT_RETENTION_YEARS",
		"CIPHER_URL", "CIPHER_API_KEY",
		"AUTH_VERIFY_URL", "AUTH_API_KEY",
	} {
		_ = v.BindEnv(key)
	}

	// .env es opcional; si no existe seguimos con env vars.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.QRMinHours <= 0 || cfg.QRMaxHours < cfg.QRMinHours {
		return nil, fmt.Errorf("invalid QR expiry bounds: min=%d max=%d", cfg.QRMinHours, cfg.QRMaxHours)
	}
	if cfg.AuditRetentionYears <= 0 {
		return nil, fmt.Errorf("AUDIT_RETENTION_YEARS must be positive")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "development")
}
