package grants

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgeops/stacks/pkg/perm"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestGrantValidate(t *testing.T) {
	valid := Grant{
		EntityType: EntityUser,
		EntityID:   "u1",
		ResourceID: "bucket-1",
		Level:      perm.View,
	}

	t.Run("valid grant", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("unknown entity type", func(t *testing.T) {
		g := valid
		g.EntityType = "group"
		err := g.Validate()
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing entity id", func(t *testing.T) {
		g := valid
		g.EntityID = ""
		assert.ErrorIs(t, g.Validate(), ErrValidation)
	})

	t.Run("missing resource id", func(t *testing.T) {
		g := valid
		g.ResourceID = ""
		assert.ErrorIs(t, g.Validate(), ErrValidation)
	})

	t.Run("level out of range", func(t *testing.T) {
		g := valid
		g.Level = perm.Level(4)
		assert.ErrorIs(t, g.Validate(), ErrValidation)

		g.Level = perm.Level(-1)
		assert.ErrorIs(t, g.Validate(), ErrValidation)
	})

	t.Run("none level is storable", func(t *testing.T) {
		g := valid
		g.Level = perm.None
		assert.NoError(t, g.Validate())
	})
}

func TestPostgresStore_FindForEntity(t *testing.T) {
	ctx := context.Background()

	t.Run("existing grant", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT permission_level FROM grants").
			WithArgs("user", "u1", "bucket-1").
			WillReturnRows(sqlmock.NewRows([]string{"permission_level"}).AddRow(2))

		store := NewPostgresStore(db)
		level, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
		require.NoError(t, err)
		assert.Equal(t, perm.Upload, level)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absence is none, not an error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT permission_level FROM grants").
			WithArgs("user", "u1", "bucket-1").
			WillReturnError(sql.ErrNoRows)

		store := NewPostgresStore(db)
		level, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
		require.NoError(t, err)
		assert.Equal(t, perm.None, level)
	})

	t.Run("invalid entity type", func(t *testing.T) {
		db, _ := setupMockDB(t)
		defer db.Close()

		store := NewPostgresStore(db)
		_, err := store.FindForEntity(ctx, "group", "g1", "bucket-1")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("query failure propagates", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT permission_level FROM grants").
			WillReturnError(errors.New("connection reset"))

		store := NewPostgresStore(db)
		_, err := store.FindForEntity(ctx, EntityTeam, "t1", "bucket-1")
		assert.Error(t, err)
	})

	t.Run("corrupt stored level is rejected", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT permission_level FROM grants").
			WillReturnRows(sqlmock.NewRows([]string{"permission_level"}).AddRow(9))

		store := NewPostgresStore(db)
		_, err := store.FindForEntity(ctx, EntityUser, "u1", "bucket-1")
		assert.Error(t, err)
	})
}

func TestPostgresStore_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("insert or overwrite", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO grants").
			WithArgs("user", "u1", "bucket-1", 1, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		store := NewPostgresStore(db)
		err := store.Upsert(ctx, Grant{
			EntityType: EntityUser,
			EntityID:   "u1",
			ResourceID: "bucket-1",
			Level:      perm.View,
			GrantedBy:  "admin-1",
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid grant never reaches the database", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := NewPostgresStore(db)
		err := store.Upsert(ctx, Grant{EntityType: "group", EntityID: "x", ResourceID: "y", Level: perm.View})
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_BulkUpsert(t *testing.T) {
	ctx := context.Background()

	grantsBatch := []Grant{
		{EntityType: EntityUser, EntityID: "u1", ResourceID: "bucket-1", Level: perm.View},
		{EntityType: EntityTeam, EntityID: "t1", ResourceID: "bucket-1", Level: perm.Upload},
	}

	t.Run("applies batch in one transaction", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO grants").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO grants").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		store := NewPostgresStore(db)
		require.NoError(t, store.BulkUpsert(ctx, grantsBatch))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO grants").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO grants").WillReturnError(errors.New("constraint violated"))
		mock.ExpectRollback()

		store := NewPostgresStore(db)
		err := store.BulkUpsert(ctx, grantsBatch)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validates every grant before touching the database", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		bad := append([]Grant{}, grantsBatch...)
		bad = append(bad, Grant{EntityType: EntityUser, EntityID: "", ResourceID: "bucket-1", Level: perm.View})

		store := NewPostgresStore(db)
		err := store.BulkUpsert(ctx, bad)
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("revoking an absent grant is not an error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("DELETE FROM grants").
			WithArgs("user", "u1", "bucket-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		store := NewPostgresStore(db)
		assert.NoError(t, store.Delete(ctx, EntityUser, "u1", "bucket-1"))
	})

	t.Run("invalid entity type", func(t *testing.T) {
		db, _ := setupMockDB(t)
		defer db.Close()

		store := NewPostgresStore(db)
		assert.ErrorIs(t, store.Delete(ctx, "group", "g1", "bucket-1"), ErrValidation)
	})
}

func TestPostgresStore_FindAllForResource(t *testing.T) {
	ctx := context.Background()

	db, mock := setupMockDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"entity_type", "entity_id", "resource_id", "permission_level", "granted_by", "granted_at", "updated_at",
	}).
		AddRow("team", "t1", "bucket-1", 2, "admin-1", now, now).
		AddRow("user", "u1", "bucket-1", 3, nil, now, now)

	mock.ExpectQuery("SELECT entity_type, entity_id, resource_id").
		WithArgs("bucket-1").
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	got, err := store.FindAllForResource(ctx, "bucket-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EntityTeam, got[0].EntityType)
	assert.Equal(t, perm.Upload, got[0].Level)
	assert.Equal(t, "admin-1", got[0].GrantedBy)
	assert.Equal(t, perm.Full, got[1].Level)
	assert.Empty(t, got[1].GrantedBy)
}
