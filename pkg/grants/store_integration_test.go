//go:build integration

package grants

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/knowledgeops/stacks/pkg/perm"
	"github.com/knowledgeops/stacks/pkg/storage"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("grants_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, storage.Apply(ctx, db, Migrations()))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("warning: failed to terminate container: %v", err)
		}
	})

	return db
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db := setupPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	grant := Grant{
		EntityType: EntityUser,
		EntityID:   "u1",
		ResourceID: "bucket-1",
		Level:      perm.View,
		GrantedBy:  "admin-1",
	}
	require.NoError(t, store.Upsert(ctx, grant))

	level, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
	require.NoError(t, err)
	assert.Equal(t, perm.View, level)

	t.Run("upsert overwrites the existing row", func(t *testing.T) {
		grant.Level = perm.Full
		require.NoError(t, store.Upsert(ctx, grant))

		level, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
		require.NoError(t, err)
		assert.Equal(t, perm.Full, level)

		all, err := store.FindAllForResource(ctx, "bucket-1")
		require.NoError(t, err)
		assert.Len(t, all, 1, "overwrite must not create a second row")
	})

	t.Run("same entity id under a different type is a distinct grant", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, Grant{
			EntityType: EntityTeam,
			EntityID:   "u1",
			ResourceID: "bucket-1",
			Level:      perm.Upload,
		}))

		userLevel, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
		require.NoError(t, err)
		teamLevel, err := store.FindForEntity(ctx, EntityTeam, "u1", "bucket-1")
		require.NoError(t, err)
		assert.Equal(t, perm.Full, userLevel)
		assert.Equal(t, perm.Upload, teamLevel)
	})

	t.Run("delete for resource removes everything", func(t *testing.T) {
		require.NoError(t, store.DeleteForResource(ctx, "bucket-1"))

		all, err := store.FindAllForResource(ctx, "bucket-1")
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestPostgresStore_CheckConstraints(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	t.Run("out-of-range level is rejected by the table", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO grants (entity_type, entity_id, resource_id, permission_level)
			VALUES ('user', 'u1', 'bucket-1', 7)
		`)
		assert.Error(t, err)
	})

	t.Run("unknown entity type is rejected by the table", func(t *testing.T) {
		_, err := db.ExecContext(ctx, `
			INSERT INTO grants (entity_type, entity_id, resource_id, permission_level)
			VALUES ('group', 'g1', 'bucket-1', 1)
		`)
		assert.Error(t, err)
	})
}

func TestPostgresStore_BulkUpsertAtomicity(t *testing.T) {
	db := setupPostgres(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	batch := []Grant{
		{EntityType: EntityUser, EntityID: "u1", ResourceID: "bucket-2", Level: perm.View},
		{EntityType: EntityUser, EntityID: "u2", ResourceID: "bucket-2", Level: perm.Upload},
		{EntityType: EntityTeam, EntityID: "t1", ResourceID: "bucket-2", Level: perm.Full},
	}
	require.NoError(t, store.BulkUpsert(ctx, batch))

	all, err := store.FindAllForResource(ctx, "bucket-2")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
