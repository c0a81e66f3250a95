package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Ledger drivers
const (
	DriverProcess = "process"
	DriverLevelDB = "leveldb"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Oracle answers authenticity queries against the ledger
	Oracle OracleConfig `mapstructure:"oracle"`

	// Notary writes issued prescriptions to the ledger
	Notary NotaryConfig `mapstructure:"notary"`

	Sharing  SharingConfig  `mapstructure:"sharing"`
	Dispense DispenseConfig `mapstructure:"dispense"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// OracleConfig configures where attestations are read from
type OracleConfig struct {
	Driver     string        `mapstructure:"driver"`
	Command    []string      `mapstructure:"command"`
	Timeout    time.Duration `mapstructure:"timeout"`
	LedgerPath string        `mapstructure:"ledger_path"`
}

// NotaryConfig configures where issued prescriptions are notarized
type NotaryConfig struct {
	Driver  string        `mapstructure:"driver"`
	Command []string      `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SharingConfig holds share grant configuration
type SharingConfig struct {
	LinkSecret       string `mapstructure:"link_secret"`
	EnforceOwnership bool   `mapstructure:"enforce_ownership"`
}

// DispenseConfig holds dispensation gate configuration
type DispenseConfig struct {
	RequireVerification bool `mapstructure:"require_verification"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RequestsPerMin  int  `mapstructure:"requests_per_min"`
	CleanupInterval int  `mapstructure:"cleanup_interval"`

	// TrustedProxies lists the IPs or CIDR ranges whose X-Forwarded-For
	// header is believed when keying clients
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`

	// HealthTimeout bounds each individual health check
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
}

// TracingConfig holds distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/rx-ledger")

	setDefaults(v)

	v.SetEnvPrefix("RX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.idle_timeout", 120)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "rxledger")
	v.SetDefault("database.user", "rxledger")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	// Ledger defaults
	v.SetDefault("oracle.driver", DriverProcess)
	v.SetDefault("oracle.command", []string{"python", "ledger/Get.py"})
	v.SetDefault("oracle.timeout", 10*time.Second)
	v.SetDefault("oracle.ledger_path", "data/ledger")
	v.SetDefault("notary.driver", DriverProcess)
	v.SetDefault("notary.command", []string{"python", "ledger/Insertar.py"})
	v.SetDefault("notary.timeout", 30*time.Second)

	v.SetDefault("sharing.link_secret", "")
	v.SetDefault("sharing.enforce_ownership", false)
	v.SetDefault("dispense.require_verification", false)

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_min", 30)
	v.SetDefault("rate_limit.cleanup_interval", 60)
	v.SetDefault("rate_limit.trusted_proxies", []string{})

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")
	v.SetDefault("monitoring.health_timeout", 5*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 1.0)

	// Logging defaults
	v.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with conventional unprefixed environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if secret := os.Getenv("SHARE_LINK_SECRET"); secret != "" {
		config.Sharing.LinkSecret = secret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if err := validateDriver("oracle", config.Oracle.Driver, config.Oracle.Command); err != nil {
		return err
	}

	if err := validateDriver("notary", config.Notary.Driver, config.Notary.Command); err != nil {
		return err
	}

	if config.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive")
	}

	if config.Notary.Timeout <= 0 {
		return fmt.Errorf("notary timeout must be positive")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("rate limit requests_per_min must be positive")
	}

	if config.RateLimit.Enabled && config.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate limit cleanup_interval must be positive")
	}

	for _, proxy := range config.RateLimit.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid rate limit trusted proxy: %q", proxy)
			}
		}
	}

	return nil
}

func validateDriver(section, driver string, command []string) error {
	switch driver {
	case DriverProcess:
		if len(command) == 0 {
			return fmt.Errorf("%s command is required for the process driver", section)
		}
	case DriverLevelDB:
	default:
		return fmt.Errorf("unknown %s driver: %q", section, driver)
	}
	return nil
}
