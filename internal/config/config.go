package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Record data sources.
const (
	DataMock     = "mock"
	DataPostgres = "postgres"
	DataRemote   = "remote"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DataMode             string        `mapstructure:"DATA_MODE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	RecordsAPIURL        string        `mapstructure:"RECORDS_API_URL"`
	RecordsAPITimeout    time.Duration `mapstructure:"RECORDS_API_TIMEOUT"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	FlowCatalog          string        `mapstructure:"FLOW_CATALOG"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	UploadLimit          string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	IncludePrescriptions bool          `mapstructure:"INCLUDE_PRESCRIPTIONS"`
}

var keys = []string{
	"PORT", "ENV", "DATA_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "SESSION_TTL", "RECORDS_API_URL", "RECORDS_API_TIMEOUT",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"FLOW_CATALOG", "BODY_LIMIT", "UPLOAD_LIMIT", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "INCLUDE_PRESCRIPTIONS",
}

// Load reads the environment, falling back to a .env file in the working
// directory when one exists.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DATA_MODE", DataMock)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("RECORDS_API_TIMEOUT", "10s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("INCLUDE_PRESCRIPTIONS", false)

	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.DataMode = strings.ToLower(strings.TrimSpace(cfg.DataMode))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DevAuth reports whether requests are authenticated with the X-Dev-* headers
// instead of bearer tokens. Only a development build without a signing key
// does that.
func (c *Config) DevAuth() bool {
	return c.IsDev() && c.AuthSigningKey == ""
}

// Validate checks the settings the chosen data mode depends on.
func (c *Config) Validate() error {
	switch c.DataMode {
	case DataMock:
	case DataPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DATA_MODE is %q", DataPostgres)
		}
	case DataRemote:
		if c.RecordsAPIURL == "" {
			return fmt.Errorf("RECORDS_API_URL is required when DATA_MODE is %q", DataRemote)
		}
		u, err := url.Parse(c.RecordsAPIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("RECORDS_API_URL %q is not an absolute URL", c.RecordsAPIURL)
		}
	default:
		return fmt.Errorf("DATA_MODE must be %q, %q or %q, got %q", DataMock, DataPostgres, DataRemote, c.DataMode)
	}

	if !c.IsDev() {
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY of at least 32 bytes is required outside development (ENV=%q)", c.Env)
		}
		if c.DataMode == DataMock && c.IsProduction() {
			return fmt.Errorf("DATA_MODE %q cannot be used in production", DataMock)
		}
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
