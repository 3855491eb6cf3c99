package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/thyroid-rag-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
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
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/thyroid-rag-server/")

	viper.SetEnvPrefix("THYRO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults plus env vars are a valid setup.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

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

	// Database defaults (postgres driver only)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "thyroid_rag")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "migrations")

	// Knowledge store defaults
	viper.SetDefault("knowledge.driver", "sqlite")
	viper.SetDefault("knowledge.sqlite_path", "data/knowledge.db")
	viper.SetDefault("knowledge.chunk_size", 1000)
	viper.SetDefault("knowledge.chunk_overlap", 200)

	// Audit log defaults
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.driver", "sqlite")
	viper.SetDefault("audit.sqlite_path", "data/audit.db")

	// Model backend defaults
	viper.SetDefault("backends.embedding.base_url", "https://api.openai.com/v1")
	viper.SetDefault("backends.embedding.model", "text-embedding-3-small")
	viper.SetDefault("backends.embedding.dimensions", 1536)
	viper.SetDefault("backends.embedding.timeout", "30s")
	viper.SetDefault("backends.embedding.rate_limit", 10)
	viper.SetDefault("backends.embedding.retry_count", 3)

	viper.SetDefault("backends.generative.base_url", "https://api.openai.com/v1")
	viper.SetDefault("backends.generative.model", "gpt-4o-mini")
	viper.SetDefault("backends.generative.temperature", 0.0)
	viper.SetDefault("backends.generative.max_tokens", 2048)
	viper.SetDefault("backends.generative.timeout", "60s")
	viper.SetDefault("backends.generative.rate_limit", 10)
	viper.SetDefault("backends.generative.retry_count", 3)

	// Cache defaults
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.memory_size", 4096)

	// Engine defaults
	viper.SetDefault("engine.top_k", 6)
	viper.SetDefault("engine.critical_multiple", 10.0)
	viper.SetDefault("engine.retry_budget", 2)
	viper.SetDefault("engine.max_context_chunks", 6)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetEngineConfig returns engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Knowledge.Driver {
	case "sqlite":
		if config.Knowledge.SQLitePath == "" {
			return fmt.Errorf("knowledge sqlite path is required")
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
		return fmt.Errorf("invalid knowledge driver: %s", config.Knowledge.Driver)
	}

	if config.Audit.Enabled {
		switch config.Audit.Driver {
		case "sqlite":
			if config.Audit.SQLitePath == "" {
				return fmt.Errorf("audit sqlite path is required")
			}
		case "postgres":
			// shares the database section validated above
		default:
			return fmt.Errorf("invalid audit driver: %s", config.Audit.Driver)
		}
	}

	if config.Knowledge.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", config.Knowledge.ChunkSize)
	}
	if config.Knowledge.ChunkOverlap < 0 || config.Knowledge.ChunkOverlap >= config.Knowledge.ChunkSize {
		return fmt.Errorf("invalid chunk overlap: %d", config.Knowledge.ChunkOverlap)
	}

	if config.Backends.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding base URL is required")
	}
	if config.Backends.Generative.BaseURL == "" {
		return fmt.Errorf("generative base URL is required")
	}

	if config.Engine.TopK <= 0 {
		return fmt.Errorf("invalid top_k: %d", config.Engine.TopK)
	}
	if config.Engine.CriticalMultiple <= 1 {
		return fmt.Errorf("invalid critical multiple: %g", config.Engine.CriticalMultiple)
	}

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

// GetDatabaseURL returns the database connection URL form
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
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
