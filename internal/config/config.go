package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/trial-match-server/internal/domain"
)

// Manager loads and validates application configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Set configuration file name and paths
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/trial-match-server/")

	// Set environment variable prefix and enable automatic env binding
	viper.SetEnvPrefix("TRIAL_MATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	m.setDefaults()

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal configuration into struct
	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.tls_enabled", false)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "trial_match")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "migrations")

	// Storage defaults
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite_path", "trial_match.db")

	// Trial registry defaults
	viper.SetDefault("registry.base_url", "https://clinicaltrials.gov/api/v2/")
	viper.SetDefault("registry.timeout", "30s")
	viper.SetDefault("registry.rate_limit", 10)
	viper.SetDefault("registry.retry_count", 3)

	// Cache defaults
	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Matching defaults
	viper.SetDefault("matching.strategy", "predicate")
	viper.SetDefault("matching.acceptance_threshold", 60.0)
	viper.SetDefault("matching.eligibility_threshold", 0.6)
	viper.SetDefault("matching.min_score", 60.0)
	viper.SetDefault("matching.max_results", 100)
	viper.SetDefault("matching.criteria_cache_size", 256)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetStorageConfig returns result store configuration
func (m *Manager) GetStorageConfig() *domain.StorageConfig {
	return &m.config.Storage
}

// GetRegistryConfig returns trial registry configuration
func (m *Manager) GetRegistryConfig() *domain.RegistryConfig {
	return &m.config.Registry
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetMatchingConfig returns matching engine configuration
func (m *Manager) GetMatchingConfig() *domain.MatchingConfig {
	return &m.config.Matching
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	// Validate storage configuration
	switch config.Storage.Driver {
	case "sqlite":
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", config.Storage.Driver)
	}

	// Validate trial registry configuration
	if config.Registry.BaseURL == "" {
		return fmt.Errorf("trial registry base URL is required")
	}

	// Validate cache configuration
	if config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required")
	}

	// Validate matching configuration
	if !domain.MatchStrategy(config.Matching.Strategy).IsValid() {
		return fmt.Errorf("invalid matching strategy: %s", config.Matching.Strategy)
	}
	if config.Matching.AcceptanceThreshold < 0 || config.Matching.AcceptanceThreshold > 100 {
		return fmt.Errorf("acceptance threshold must be in [0, 100]: %f", config.Matching.AcceptanceThreshold)
	}
	if config.Matching.EligibilityThreshold < 0 || config.Matching.EligibilityThreshold > 1 {
		return fmt.Errorf("eligibility threshold must be in [0, 1]: %f", config.Matching.EligibilityThreshold)
	}
	if config.Matching.CriteriaCacheSize <= 0 {
		return fmt.Errorf("criteria cache size must be positive: %d", config.Matching.CriteriaCacheSize)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(viper.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(viper.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}
