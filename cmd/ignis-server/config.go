package main

import (
	"fmt"
	"os"
	"time"

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/cache"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/rest"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
	defaultModelsPath      = "configs/models.yaml"
	defaultCacheTTL        = 10 * time.Minute
	defaultCacheEmptyTTL   = time.Minute

	configPathEnv  = "IGNIS_CONFIG"
	databaseDSNEnv = "IGNIS_DATABASE_DSN"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int           `yaml:"maxHeaderBytes"`
}

// CacheConfig enables the FindByID read-through cache.
type CacheConfig struct {
	Enabled  bool              `yaml:"enabled"`
	TTL      time.Duration     `yaml:"ttl"`
	EmptyTTL time.Duration     `yaml:"emptyTTL"`
	Redis    cache.RedisConfig `yaml:"redis"`
}

// TransactionConfig holds transaction defaults.
type TransactionConfig struct {
	DefaultIsolation string `yaml:"defaultIsolation"`
}

// AppConfig holds the server configuration.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      logger.Config     `yaml:"logger"`
	Database    db.Config         `yaml:"database"`
	Transaction TransactionConfig `yaml:"transaction"`
	Cache       CacheConfig       `yaml:"cache"`
	Models      string            `yaml:"models"`
	HTTP        rest.RouterConfig `yaml:"http"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}

	if dsn := os.Getenv(databaseDSNEnv); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Transaction.DefaultIsolation != "" {
		if _, err := db.ParseIsolationLevel(cfg.Transaction.DefaultIsolation); err != nil {
			return nil, fmt.Errorf("transaction.defaultIsolation: %w", err)
		}
	}

	if cfg.Models == "" {
		cfg.Models = defaultModelsPath
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Redis.Addr == "" {
			return nil, fmt.Errorf("cache.redis.addr is required when cache is enabled")
		}
		applyRedisDefaults(&cfg.Cache.Redis)
		if cfg.Cache.TTL == 0 {
			cfg.Cache.TTL = defaultCacheTTL
		}
		if cfg.Cache.EmptyTTL == 0 {
			cfg.Cache.EmptyTTL = defaultCacheEmptyTTL
		}
	}

	if cfg.HTTP.Limits.MaxLimit > 0 && cfg.HTTP.Limits.DefaultLimit > cfg.HTTP.Limits.MaxLimit {
		return nil, fmt.Errorf("http.limits.defaultLimit exceeds maxLimit")
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
}
