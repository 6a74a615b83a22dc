package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DRIVER", "SQLITE_PATH", "DATABASE_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "LOG_LEVEL", "LOG_FORMAT", "SHUTDOWN_TIMEOUT_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, ":5000", cfg.HTTPAddr())
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "bank.db", cfg.DB.SQLitePath)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.EventsEnabled())
	assert.Equal(t, "loan-events", cfg.Kafka.Topic)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/loans")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()

	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DB.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.EventsEnabled())
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "postgres without url",
			cfg:     Config{Port: 5000, DB: DatabaseConfig{Driver: DriverPostgres}},
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "unknown driver",
			cfg:     Config{Port: 5000, DB: DatabaseConfig{Driver: "mysql"}},
			wantErr: "unsupported DB_DRIVER",
		},
		{
			name:    "bad port",
			cfg:     Config{Port: 70000, DB: DatabaseConfig{Driver: DriverSQLite, SQLitePath: "x.db"}},
			wantErr: "invalid PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
