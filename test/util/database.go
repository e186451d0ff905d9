// Package util provides shared helpers for database-backed tests.
package util

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Environment variables naming an external database. The first one set
// wins; without either a postgres testcontainer is started.
var externalDatabaseEnv = []string{"DIRECTOR_TEST_DATABASE_URL", "CI_DATABASE_URL"}

const (
	postgresImage    = "postgres:17-alpine"
	testDatabaseName = "test"
)

// shared is the database every test in one package connects to.
var shared struct {
	once    sync.Once
	connStr string
	err     error
}

// Migrator applies the schema to a freshly created test schema. It is
// injected to keep this package free of an import on pkg/database.
type Migrator func(db *stdsql.DB, databaseName string) error

// SetupTestDatabase gives the test its own schema on the shared database,
// migrates it, and returns a pool whose connections all use that schema.
// The schema is dropped on cleanup. Database tests are skipped with -short.
func SetupTestDatabase(t *testing.T, migrate Migrator) *stdsql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	connStr := sharedDatabase(t)
	schema := SchemaName(t)

	admin, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	_ = admin.Close()
	require.NoError(t, err, "create schema %s", schema)

	db, err := stdsql.Open("pgx", WithSearchPath(connStr, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schema, err)
		}
		_ = db.Close()
	})

	require.NoError(t, migrate(db, testDatabaseName), "migrate schema %s", schema)
	return db
}

func sharedDatabase(t *testing.T) string {
	t.Helper()
	for _, env := range externalDatabaseEnv {
		if v := os.Getenv(env); v != "" {
			t.Logf("Using external PostgreSQL from %s", env)
			return v
		}
	}

	shared.once.Do(func() {
		t.Log("Starting shared PostgreSQL testcontainer")
		shared.connStr, shared.err = startContainer(context.Background())
	})
	require.NoError(t, shared.err, "start postgres testcontainer")
	return shared.connStr
}

func startContainer(ctx context.Context) (string, error) {
	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(testDatabaseName),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(initScriptPath()),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("run postgres container: %w", err)
	}
	connStr, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("container connection string: %w", err)
	}
	return connStr, nil
}

// SchemaName returns a unique, PostgreSQL-safe schema name for the test:
// test_<sanitized test name>_<8 hex chars>.
func SchemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))

	// Identifiers are capped at 63 bytes.
	if len(name) > 40 {
		name = name[:40]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("test_%s_%s", name, suffix)
}

// WithSearchPath adds a search_path parameter to a PostgreSQL connection
// string so every pooled connection resolves tables in schema.
func WithSearchPath(connStr, schema string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return connStr + sep + "search_path=" + url.QueryEscape(schema)
}

// initScriptPath resolves deploy/postgres-init/01-init.sql relative to
// this source file, so it works from any package's tests.
func initScriptPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("initScriptPath: runtime.Caller(0) failed")
	}
	root := filepath.Dir(filepath.Dir(filepath.Dir(thisFile))) // test/util → test → root
	return filepath.Join(root, "deploy", "postgres-init", "01-init.sql")
}
