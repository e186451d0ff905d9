// Package database provides a migrated database client for integration tests.
package database

import (
	"testing"

	"github.com/verdictswarm/director/pkg/database"
	"github.com/verdictswarm/director/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// Schema drop and connection close are registered with t.Cleanup.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	db := util.SetupTestDatabase(t, database.RunMigrations)
	return database.NewClientFromDB(db)
}
