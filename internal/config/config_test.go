package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPLITLEDGER_AUTH_JWT_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300*time.Millisecond, cfg.Server.RequestTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "./data/ledger.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, DriverMemory, cfg.Idempotency.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.False(t, cfg.Proof.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Proof.UploadTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SPLITLEDGER_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("SPLITLEDGER_SERVER_PORT", "9090")
	t.Setenv("SPLITLEDGER_SERVER_REQUEST_TIMEOUT", "1s")
	t.Setenv("SPLITLEDGER_STORAGE_DRIVER", "MONGO")
	t.Setenv("SPLITLEDGER_STORAGE_MONGO_URI", "mongodb://db:27017")
	t.Setenv("SPLITLEDGER_LEDGER_MAX_ATTEMPTS", "8")
	t.Setenv("SPLITLEDGER_IDEMPOTENCY_DRIVER", "redis")
	t.Setenv("SPLITLEDGER_REDIS_ADDR", "cache:6379")
	t.Setenv("SPLITLEDGER_LOG_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, DriverMongo, cfg.Storage.Driver)
	assert.Equal(t, "mongodb://db:27017", cfg.Storage.MongoURI)
	assert.Equal(t, 8, cfg.Ledger.MaxAttempts)
	assert.Equal(t, DriverRedis, cfg.Idempotency.Driver)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[auth]
jwt_secret = "from-file"

[storage]
driver = "memory"

[proof]
enabled = true
bucket = "proofs"
endpoint = "http://minio:9000"
use_path_style = true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Proof.Enabled)
	assert.Equal(t, "proofs", cfg.Proof.Bucket)
	assert.True(t, cfg.Proof.UsePathStyle)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing jwt secret", map[string]string{"SPLITLEDGER_AUTH_JWT_SECRET": ""}, "auth.jwt_secret"},
		{"unknown storage", map[string]string{"SPLITLEDGER_STORAGE_DRIVER": "postgres"}, "unknown storage.driver"},
		{"bad attempts", map[string]string{"SPLITLEDGER_LEDGER_MAX_ATTEMPTS": "0"}, "ledger.max_attempts"},
		{"unknown idempotency", map[string]string{"SPLITLEDGER_IDEMPOTENCY_DRIVER": "etcd"}, "idempotency.driver"},
		{"proof without bucket", map[string]string{"SPLITLEDGER_PROOF_ENABLED": "true"}, "proof.bucket"},
		{"bad log format", map[string]string{"SPLITLEDGER_LOG_FORMAT": "xml"}, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("SPLITLEDGER_AUTH_JWT_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
