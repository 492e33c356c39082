package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Qdrant   QdrantConfig   `json:"qdrant"`
	Redis    RedisConfig    `json:"redis"`
	Auth     AuthConfig     `json:"auth"`
	Engine   EngineConfig   `json:"engine"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

type DatabaseConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	SSLMode      string `json:"ssl_mode"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxLifetime  int    `json:"max_lifetime"`
}

// QdrantConfig holds connection settings for the vector store.
type QdrantConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIKey   string `json:"api_key"`
	UseTLS   bool   `json:"use_tls"`
	Timeout  int    `json:"timeout"`
	Disabled bool   `json:"disabled"` // dev mode: in-memory store instead
}

// RedisConfig holds settings for the distributed cache tier. When disabled
// the context cache runs local-only.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Enabled  bool   `json:"enabled"`
}

type AuthConfig struct {
	JWTSecret      string   `json:"jwt_secret"`
	JWTExpiration  int      `json:"jwt_expiration"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// EngineConfig carries the core tunables. Defaults match the documented
// behavior; override via environment for tuning.
type EngineConfig struct {
	// Query path.
	QueryTimeout int `json:"query_timeout"` // seconds, whole-request deadline

	// Context cache.
	CacheMaxEntries  int    `json:"cache_max_entries"`
	CacheMaxMemoryMB int    `json:"cache_max_memory_mb"`
	CacheBaseTTL     int    `json:"cache_base_ttl"` // seconds
	CacheStrategy    string `json:"cache_strategy"` // AGGRESSIVE, CONSERVATIVE, ADAPTIVE

	// Credential validation cache.
	ValidationCacheTTL int `json:"validation_cache_ttl"` // seconds

	// Queue manager.
	MaxConcurrentOperations int `json:"max_concurrent_operations"`
	MaxQueueSize            int `json:"max_queue_size"`
	OperationTimeout        int `json:"operation_timeout"` // seconds

	// Reprocessing pipeline.
	CheckpointInterval     int `json:"checkpoint_interval"` // batches
	MaxConcurrentDocuments int `json:"max_concurrent_documents"`
	MaxRetriesPerDocument  int `json:"max_retries_per_document"`

	// Snapshots.
	SnapshotRetentionDays int    `json:"snapshot_retention_days"`
	DataDir               string `json:"data_dir"` // snapshots/, checkpoints/, backups/
}

func LoadConfig() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "raguser"),
			Password:     getEnv("DB_PASSWORD", "ragpassword"),
			Name:         getEnv("DB_NAME", "rag_shared"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
		},
		Qdrant: QdrantConfig{
			Host:     getEnv("QDRANT_HOST", "localhost"),
			Port:     getEnvAsInt("QDRANT_PORT", 6334),
			APIKey:   getEnv("QDRANT_API_KEY", ""),
			UseTLS:   getEnvAsBool("QDRANT_USE_TLS", false),
			Timeout:  getEnvAsInt("QDRANT_TIMEOUT", 30),
			Disabled: getEnvAsBool("QDRANT_DISABLED", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			JWTExpiration:  getEnvAsInt("JWT_EXPIRATION", 3600),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Engine: EngineConfig{
			QueryTimeout:            getEnvAsInt("ENGINE_QUERY_TIMEOUT", 10),
			CacheMaxEntries:         getEnvAsInt("ENGINE_CACHE_MAX_ENTRIES", 1000),
			CacheMaxMemoryMB:        getEnvAsInt("ENGINE_CACHE_MAX_MEMORY_MB", 512),
			CacheBaseTTL:            getEnvAsInt("ENGINE_CACHE_BASE_TTL", 3600),
			CacheStrategy:           getEnv("ENGINE_CACHE_STRATEGY", "ADAPTIVE"),
			ValidationCacheTTL:      getEnvAsInt("ENGINE_VALIDATION_CACHE_TTL", 900),
			MaxConcurrentOperations: getEnvAsInt("ENGINE_MAX_CONCURRENT_OPERATIONS", 3),
			MaxQueueSize:            getEnvAsInt("ENGINE_MAX_QUEUE_SIZE", 100),
			OperationTimeout:        getEnvAsInt("ENGINE_OPERATION_TIMEOUT", 3600),
			CheckpointInterval:      getEnvAsInt("ENGINE_CHECKPOINT_INTERVAL", 5),
			MaxConcurrentDocuments:  getEnvAsInt("ENGINE_MAX_CONCURRENT_DOCUMENTS", 5),
			MaxRetriesPerDocument:   getEnvAsInt("ENGINE_MAX_RETRIES_PER_DOCUMENT", 3),
			SnapshotRetentionDays:   getEnvAsInt("ENGINE_SNAPSHOT_RETENTION_DAYS", 7),
			DataDir:                 getEnv("ENGINE_DATA_DIR", "./data"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func validateConfig(config *Config) error {
	if config.Database.Password == "" {
		return fmt.Errorf("database password is required (DB_PASSWORD)")
	}

	if config.Auth.JWTSecret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed from default value (JWT_SECRET)")
	}

	if config.Engine.MaxConcurrentOperations < 1 {
		return fmt.Errorf("ENGINE_MAX_CONCURRENT_OPERATIONS must be at least 1")
	}

	if config.Engine.MaxQueueSize < 1 {
		return fmt.Errorf("ENGINE_MAX_QUEUE_SIZE must be at least 1")
	}

	switch strings.ToUpper(config.Engine.CacheStrategy) {
	case "AGGRESSIVE", "CONSERVATIVE", "ADAPTIVE":
	default:
		return fmt.Errorf("ENGINE_CACHE_STRATEGY must be one of AGGRESSIVE, CONSERVATIVE, ADAPTIVE")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
