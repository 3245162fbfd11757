// Package app opens the backends selected by the configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/proof"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/storage/memory"
	"github.com/mmynk/splitledger/internal/storage/mongo"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

const connectTimeout = 10 * time.Second

// OpenStore opens the ledger store named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", cfg.Driver, "database", cfg.SQLitePath)
		return store, nil
	case config.DriverMongo:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", cfg.Driver, "database", cfg.MongoDatabase)
		return store, nil
	case config.DriverMemory:
		slog.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// OpenIdempotency opens the idempotency key store named by cfg.Idempotency.Driver.
func OpenIdempotency(ctx context.Context, cfg *config.Config) (idempotency.Store, error) {
	switch cfg.Idempotency.Driver {
	case config.DriverMemory:
		return idempotency.NewMemoryStore(), nil
	case config.DriverRedis:
		store, err := idempotency.NewRedisStore(ctx, idempotency.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("Idempotency store initialized", "driver", cfg.Idempotency.Driver, "addr", cfg.Redis.Addr)
		return store, nil
	}
	return nil, fmt.Errorf("unknown idempotency driver %q", cfg.Idempotency.Driver)
}

// OpenProofs returns the proof store, or nil when uploads are disabled.
func OpenProofs(ctx context.Context, cfg config.ProofConfig) (proof.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	store, err := proof.NewS3Store(ctx, proof.Config{
		Bucket:       cfg.Bucket,
		Endpoint:     cfg.Endpoint,
		Region:       cfg.Region,
		AccessKey:    cfg.AccessKey,
		SecretKey:    cfg.SecretKey,
		UsePathStyle: cfg.UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Proof uploads enabled", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return store, nil
}
