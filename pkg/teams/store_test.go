package teams

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowledgeops/stacks/pkg/auth"
	"github.com/knowledgeops/stacks/pkg/users"
)

type fakeUserStore struct {
	users.Store
	byID map[string]*users.User
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*users.User, error) {
	user, ok := f.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	return user, nil
}

func setupStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *fakeUserStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userStore := &fakeUserStore{byID: map[string]*users.User{}}
	return NewPostgresStore(db, userStore), mock, userStore
}

func TestAddMember(t *testing.T) {
	ctx := context.Background()

	t.Run("adds a regular user", func(t *testing.T) {
		store, mock, userStore := setupStore(t)
		userStore.byID["u1"] = &users.User{ID: "u1", Role: auth.RoleUser}

		mock.ExpectExec("INSERT INTO team_members").
			WithArgs("t1", "u1", RoleMember).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.AddMember(ctx, "t1", "u1", RoleMember))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults to the member role", func(t *testing.T) {
		store, mock, userStore := setupStore(t)
		userStore.byID["u1"] = &users.User{ID: "u1", Role: auth.RoleUser}

		mock.ExpectExec("INSERT INTO team_members").
			WithArgs("t1", "u1", RoleMember).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.AddMember(ctx, "t1", "u1", ""))
	})

	t.Run("rejects a global admin before any write", func(t *testing.T) {
		store, mock, userStore := setupStore(t)
		userStore.byID["root"] = &users.User{ID: "root", Role: auth.RoleAdmin}

		err := store.AddMember(ctx, "t1", "root", RoleLeader)
		assert.ErrorIs(t, err, ErrAdminMembership)
		assert.NoError(t, mock.ExpectationsWereMet(), "no insert may be attempted")
	})

	t.Run("rejects an unknown user", func(t *testing.T) {
		store, _, _ := setupStore(t)
		err := store.AddMember(ctx, "t1", "ghost", RoleMember)
		assert.ErrorIs(t, err, users.ErrNotFound)
	})

	t.Run("duplicate membership is a descriptive error", func(t *testing.T) {
		store, mock, userStore := setupStore(t)
		userStore.byID["u1"] = &users.User{ID: "u1", Role: auth.RoleUser}

		// ON CONFLICT DO NOTHING reports zero affected rows.
		mock.ExpectExec("INSERT INTO team_members").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.AddMember(ctx, "t1", "u1", RoleMember)
		assert.ErrorIs(t, err, ErrDuplicateMembership)
	})

	t.Run("rejects an unknown role", func(t *testing.T) {
		store, _, _ := setupStore(t)
		err := store.AddMember(ctx, "t1", "u1", "owner")
		assert.Error(t, err)
	})
}

func TestUpdateMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("promotes a member to leader", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectExec("UPDATE team_members SET role").
			WithArgs(RoleLeader, "t1", "u1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpdateMemberRole(ctx, "t1", "u1", RoleLeader))
	})

	t.Run("absent membership is not found", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectExec("UPDATE team_members SET role").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateMemberRole(ctx, "t1", "ghost", RoleLeader)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects an unknown role", func(t *testing.T) {
		store, _, _ := setupStore(t)
		assert.Error(t, store.UpdateMemberRole(ctx, "t1", "u1", "owner"))
	})
}

func TestTeamsOf(t *testing.T) {
	store, mock, _ := setupStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"team_id", "user_id", "role", "added_at"}).
		AddRow("t1", "u1", "leader", now).
		AddRow("t2", "u1", "member", now)

	mock.ExpectQuery("SELECT team_id, user_id, role, added_at FROM team_members").
		WithArgs("u1").
		WillReturnRows(rows)

	memberships, err := store.TeamsOf(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, RoleLeader, memberships[0].Role)
	assert.Equal(t, RoleMember, memberships[1].Role)
}

func TestGetTeam(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		store, mock, _ := setupStore(t)
		now := time.Now()

		mock.ExpectQuery("SELECT id, name, project, description").
			WithArgs("t1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "project", "description", "created_at", "updated_at"}).
				AddRow("t1", "platform", "kb", nil, now, now))

		team, err := store.GetTeam(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "platform", team.Name)
		assert.Equal(t, "kb", team.Project)
		assert.Empty(t, team.Description)
	})

	t.Run("absent team is not found", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectQuery("SELECT id, name, project, description").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetTeam(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateTeam(t *testing.T) {
	ctx := context.Background()

	t.Run("generates an id when missing", func(t *testing.T) {
		store, mock, _ := setupStore(t)

		mock.ExpectExec("INSERT INTO teams").
			WillReturnResult(sqlmock.NewResult(0, 1))

		team := &Team{Name: "platform"}
		require.NoError(t, store.CreateTeam(ctx, team))
		assert.NotEmpty(t, team.ID)
		assert.False(t, team.CreatedAt.IsZero())
	})

	t.Run("requires a name", func(t *testing.T) {
		store, _, _ := setupStore(t)
		assert.Error(t, store.CreateTeam(ctx, &Team{}))
	})
}

func TestDeleteTeam(t *testing.T) {
	store, mock, _ := setupStore(t)

	mock.ExpectExec("DELETE FROM teams").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteTeam(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
