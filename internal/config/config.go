// Package config provides configuration loading for the AuthRelay service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/authrelay/authrelay/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"` // dev, staging, prod
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ProtocolConfig holds every protocol constant: lifetimes, sweep bounds, fee
// parameters, and the ledger accounts the service acts through.
type ProtocolConfig struct {
	KeyLifetime       time.Duration `mapstructure:"key_lifetime"`
	KeyCleanupGrace   time.Duration `mapstructure:"key_cleanup_grace"`
	RelayExpiry       time.Duration `mapstructure:"relay_expiry"`
	RelayFreshness    time.Duration `mapstructure:"relay_freshness"`
	ReplacementGrace  time.Duration `mapstructure:"replacement_grace"`
	CleanupBatch      int           `mapstructure:"cleanup_batch"`
	StorageFeeAmount  int64         `mapstructure:"storage_fee_amount"` // in minimal credit units
	Precision         uint8         `mapstructure:"precision"`
	NativeSymbol      string        `mapstructure:"native_symbol"`
	CreditSymbol      string        `mapstructure:"credit_symbol"`
	PricePair         string        `mapstructure:"price_pair"`
	ContractAccount   string        `mapstructure:"contract_account"`
	RewardPool        string        `mapstructure:"reward_pool"`
	AttributeIssuer   string        `mapstructure:"attribute_issuer"`
	DiscountAttribute string        `mapstructure:"discount_attribute"`
}

// NativeSym returns the native symbol with its fixed precision. Quantity
// checks compare against the full symbol so a request carrying the right
// code at the wrong scale is rejected.
func (c ProtocolConfig) NativeSym() models.Symbol {
	return models.Symbol{Code: c.NativeSymbol, Precision: c.Precision}
}

// CreditSym returns the credit symbol with its fixed precision.
func (c ProtocolConfig) CreditSym() models.Symbol {
	return models.Symbol{Code: c.CreditSymbol, Precision: c.Precision}
}

// NativeAsset builds a native-asset quantity from minimal units.
func (c ProtocolConfig) NativeAsset(amount int64) models.Asset {
	return models.Asset{Amount: amount, Symbol: c.NativeSym()}
}

// CreditAsset builds a credit-asset quantity from minimal units.
func (c ProtocolConfig) CreditAsset(amount int64) models.Asset {
	return models.Asset{Amount: amount, Symbol: c.CreditSym()}
}

// StorageFee returns the fixed per-key storage fee in credit units.
func (c ProtocolConfig) StorageFee() models.Asset {
	return c.CreditAsset(c.StorageFeeAmount)
}

// AuthConfig maps bearer tokens to the ledger accounts they hold native
// authority for.
type AuthConfig struct {
	Tokens map[string][]string `mapstructure:"tokens"` // token -> accounts
}

// SandboxConfig seeds the in-memory collaborators when the server runs
// without a live ledger.
type SandboxConfig struct {
	Enabled  bool               `mapstructure:"enabled"`
	Prices   map[string]float64 `mapstructure:"prices"`
	Balances map[string]string  `mapstructure:"balances"` // account -> asset string
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/authrelay")

	// Enable environment variable override
	v.SetEnvPrefix("AUTHRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Explicitly bind database environment variables (nested struct issue with viper)
	v.BindEnv("database.host", "AUTHRELAY_DATABASE_HOST")
	v.BindEnv("database.password", "AUTHRELAY_DATABASE_PASSWORD")
	v.BindEnv("redis.host", "AUTHRELAY_REDIS_HOST")
	v.BindEnv("redis.password", "AUTHRELAY_REDIS_PASSWORD")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.environment", "dev")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "authrelay")
	v.SetDefault("database.password", "authrelay")
	v.SetDefault("database.database", "authrelay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Protocol defaults
	v.SetDefault("protocol.key_lifetime", "8640h")      // 360 days
	v.SetDefault("protocol.key_cleanup_grace", "4320h") // 180 days
	v.SetDefault("protocol.relay_expiry", "720h")       // 30 days
	v.SetDefault("protocol.relay_freshness", "1h")
	v.SetDefault("protocol.replacement_grace", "720h") // 30 days
	v.SetDefault("protocol.cleanup_batch", 10)
	v.SetDefault("protocol.storage_fee_amount", 10000) // 1.0000 credit units
	v.SetDefault("protocol.precision", 4)
	v.SetDefault("protocol.native_symbol", "REM")
	v.SetDefault("protocol.credit_symbol", "AUTH")
	v.SetDefault("protocol.price_pair", "rem.usd")
	v.SetDefault("protocol.contract_account", "authrelay")
	v.SetDefault("protocol.reward_pool", "auth.reward")
	v.SetDefault("protocol.attribute_issuer", "rem.attr")
	v.SetDefault("protocol.discount_attribute", "discount")

	// Sandbox defaults
	v.SetDefault("sandbox.enabled", false)
}
