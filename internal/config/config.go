// Package config loads server settings.
//
// Priority (highest to lowest):
//  1. Environment variables with the SPLITLEDGER_ prefix (e.g. SPLITLEDGER_STORAGE_DRIVER)
//  2. splitledger.toml in the working directory, /etc/splitledger, or the given path
//  3. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Ledger      LedgerConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Proof       ProofConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port int
	// RequestTimeout bounds every RPC.
	RequestTimeout time.Duration
}

type StorageConfig struct {
	Driver        string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
}

type LedgerConfig struct {
	MaxAttempts int
}

type IdempotencyConfig struct {
	Driver string
	TTL    time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type ProofConfig struct {
	Enabled      bool
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	// UploadTimeout bounds a proof upload, which runs outside the request timeout.
	UploadTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 300*time.Millisecond)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.sqlite_path", "./data/ledger.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "splitledger")

	v.SetDefault("ledger.max_attempts", 3)

	v.SetDefault("idempotency.driver", DriverMemory)
	v.SetDefault("idempotency.ttl", 24*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("proof.enabled", false)
	v.SetDefault("proof.bucket", "")
	v.SetDefault("proof.endpoint", "")
	v.SetDefault("proof.region", "us-east-1")
	v.SetDefault("proof.access_key", "")
	v.SetDefault("proof.secret_key", "")
	v.SetDefault("proof.use_path_style", false)
	v.SetDefault("proof.upload_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. When path is non-empty that file must exist;
// otherwise a missing splitledger.toml is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("splitledger")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/splitledger")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SPLITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(v.GetString("storage.driver")),
			SQLitePath:    v.GetString("storage.sqlite_path"),
			MongoURI:      v.GetString("storage.mongo_uri"),
			MongoDatabase: v.GetString("storage.mongo_database"),
		},
		Ledger: LedgerConfig{
			MaxAttempts: v.GetInt("ledger.max_attempts"),
		},
		Idempotency: IdempotencyConfig{
			Driver: strings.ToLower(v.GetString("idempotency.driver")),
			TTL:    v.GetDuration("idempotency.ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Proof: ProofConfig{
			Enabled:       v.GetBool("proof.enabled"),
			Bucket:        v.GetString("proof.bucket"),
			Endpoint:      v.GetString("proof.endpoint"),
			Region:        v.GetString("proof.region"),
			AccessKey:     v.GetString("proof.access_key"),
			SecretKey:     v.GetString("proof.secret_key"),
			UsePathStyle:  v.GetBool("proof.use_path_style"),
			UploadTimeout: v.GetDuration("proof.upload_timeout"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_uri and storage.mongo_database are required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Ledger.MaxAttempts <= 0 {
		return fmt.Errorf("ledger.max_attempts must be positive")
	}
	switch c.Idempotency.Driver {
	case DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("unknown idempotency.driver %q", c.Idempotency.Driver)
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency.ttl must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Proof.Enabled && c.Proof.Bucket == "" {
		return fmt.Errorf("proof.bucket is required when proof uploads are enabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
