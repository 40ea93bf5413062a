package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "SKRM"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = "sqlite"
	defaultDatabaseDSN         = "skrm.db"
	defaultLogLevel            = "info"
	defaultAuthIssuer          = "skrm-auth"
	defaultAuthAudience        = "skrm-api"
	defaultTokenTTLMinutes     = 30
	defaultCompactionThreshold = 100

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the collaboration server.
type AppConfig struct {
	HTTPAddress         string
	DatabaseDriver      string
	DatabaseDSN         string
	AuthSigningSecret   string
	AuthIssuer          string
	AuthAudience        string
	TokenTTLMinutes     int
	CompactionThreshold int64
	LogLevel            string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("collab.compaction_threshold", defaultCompactionThreshold)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabaseDriver:      configViper.GetString("database.driver"),
		DatabaseDSN:         configViper.GetString("database.dsn"),
		AuthSigningSecret:   configViper.GetString("auth.signing_secret"),
		AuthIssuer:          configViper.GetString("auth.issuer"),
		AuthAudience:        configViper.GetString("auth.audience"),
		TokenTTLMinutes:     configViper.GetInt("auth.token_ttl_minutes"),
		CompactionThreshold: configViper.GetInt64("collab.compaction_threshold"),
		LogLevel:            configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.DatabaseDriver)) {
	case driverSQLite, driverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", driverSQLite, driverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.CompactionThreshold < 0 {
		return fmt.Errorf("collab.compaction_threshold must not be negative")
	}
	return nil
}
