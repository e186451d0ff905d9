package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdictswarm/director/test/util"
)

func newTestClient(t *testing.T) *Client {
	return NewClientFromDB(util.SetupTestDatabase(t, RunMigrations))
}

func TestDatabaseClient_Migrations(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, table := range []string{"recordings", "recording_events", "schema_migrations"} {
		var exists bool
		err := client.DB().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables
			 WHERE table_schema = current_schema() AND table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	t.Run("re-running migrations is a no-op", func(t *testing.T) {
		require.NoError(t, RunMigrations(client.DB(), "test"))
	})
}

func TestDatabaseClient_CascadeDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	db := client.DB()

	_, err := db.ExecContext(ctx,
		`INSERT INTO recordings (id, cache_key, token_address, chain) VALUES ('r1', 'solana:abc:free', 'abc', 'solana')`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO recording_events (recording_id, seq, event_type, payload, timestamp_ms)
		 VALUES ('r1', 1, 'scan:start', '{"agentId":"TechnicianBot"}', 1)`)
	require.NoError(t, err)

	// The GIN index serves containment queries on payload.
	var n int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM recording_events WHERE payload @> '{"agentId":"TechnicianBot"}'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.ExecContext(ctx, `DELETE FROM recordings WHERE id = 'r1'`)
	require.NoError(t, err)

	err = db.QueryRowContext(ctx, `SELECT count(*) FROM recording_events`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHealth(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
	assert.Zero(t, health.Recordings)

	jsonBytes, err := json.Marshal(health)
	require.NoError(t, err)

	var jsonData map[string]any
	require.NoError(t, json.Unmarshal(jsonBytes, &jsonData))
	responseTime, ok := jsonData["response_time_ms"].(float64)
	require.True(t, ok, "response_time_ms should be a number")
	assert.Less(t, responseTime, float64(1000000), "response_time_ms should be in milliseconds, not nanoseconds")
}

func TestHealth_Unreachable(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, client.Close())

	health, err := Health(context.Background(), client.DB())
	require.Error(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestLoadConfigFromEnv(t *testing.T) {
	envKeys := []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
	}

	tests := []struct {
		name        string
		envVars     map[string]string
		wantErr     bool
		errContains string
		check       func(t *testing.T, cfg Config)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "localhost", cfg.Host)
				assert.Equal(t, 5432, cfg.Port)
				assert.Equal(t, "director", cfg.User)
				assert.Equal(t, "director", cfg.Database)
				assert.Equal(t, "disable", cfg.SSLMode)
				assert.Equal(t, 10, cfg.MaxOpenConns)
				assert.Equal(t, 5, cfg.MaxIdleConns)
			},
		},
		{
			name: "custom values",
			envVars: map[string]string{
				"DB_HOST":           "db.example.com",
				"DB_PORT":           "5433",
				"DB_USER":           "admin",
				"DB_PASSWORD":       "secret",
				"DB_NAME":           "production",
				"DB_SSLMODE":        "require",
				"DB_MAX_OPEN_CONNS": "50",
				"DB_MAX_IDLE_CONNS": "20",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, "db.example.com", cfg.Host)
				assert.Equal(t, 5433, cfg.Port)
				assert.Equal(t, 50, cfg.MaxOpenConns)
				assert.Equal(t, 20, cfg.MaxIdleConns)
				assert.Equal(t,
					"host=db.example.com port=5433 user=admin password=secret dbname=production sslmode=require",
					cfg.DSN())
			},
		},
		{
			name:        "invalid DB_PORT",
			envVars:     map[string]string{"DB_PORT": "invalid"},
			wantErr:     true,
			errContains: "invalid DB_PORT",
		},
		{
			name:        "invalid DB_MAX_OPEN_CONNS",
			envVars:     map[string]string{"DB_MAX_OPEN_CONNS": "not_a_number"},
			wantErr:     true,
			errContains: "invalid DB_MAX_OPEN_CONNS",
		},
		{
			name:        "invalid DB_MAX_IDLE_CONNS",
			envVars:     map[string]string{"DB_MAX_IDLE_CONNS": "abc123"},
			wantErr:     true,
			errContains: "invalid DB_MAX_IDLE_CONNS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
				require.NoError(t, os.Unsetenv(key))
			}
			for key, val := range tt.envVars {
				t.Setenv(key, val)
			}

			cfg, err := LoadConfigFromEnv()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestEnabled(t *testing.T) {
	t.Setenv("DB_DISABLED", "")
	assert.True(t, Enabled())

	t.Setenv("DB_DISABLED", "true")
	assert.False(t, Enabled())
}
