package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCapabilityTable(t *testing.T) {
	table := DefaultCapabilityTable()

	t.Run("admins hold every capability", func(t *testing.T) {
		for _, cap := range []string{
			CapManageUsers, CapManageTeams, CapManageGrants,
			CapViewSearch, CapViewAudit, CapStorageWrite,
		} {
			assert.True(t, table.Allows(RoleAdmin, cap), "admin should hold %s", cap)
		}
	})

	t.Run("leaders manage teams but not users or grants", func(t *testing.T) {
		assert.True(t, table.Allows(RoleLeader, CapManageTeams))
		assert.False(t, table.Allows(RoleLeader, CapManageUsers))
		assert.False(t, table.Allows(RoleLeader, CapManageGrants))
	})

	t.Run("users only search", func(t *testing.T) {
		assert.True(t, table.Allows(RoleUser, CapViewSearch))
		assert.False(t, table.Allows(RoleUser, CapManageTeams))
		assert.False(t, table.Allows(RoleUser, CapStorageWrite))
	})

	t.Run("unknown role has nothing", func(t *testing.T) {
		assert.False(t, table.Allows("superuser", CapViewSearch))
	})
}

func writeOverrides(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capabilities.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadOverrides(t *testing.T) {
	t.Run("replaces listed roles, keeps the rest", func(t *testing.T) {
		table := DefaultCapabilityTable()
		path := writeOverrides(t, `{"user": ["view_search", "view_audit"]}`)

		require.NoError(t, table.LoadOverrides(path))

		assert.True(t, table.Allows(RoleUser, CapViewAudit))
		assert.True(t, table.Allows(RoleAdmin, CapManageUsers), "roles absent from the file keep their defaults")
	})

	t.Run("can revoke a role default", func(t *testing.T) {
		table := DefaultCapabilityTable()
		path := writeOverrides(t, `{"leader": []}`)

		require.NoError(t, table.LoadOverrides(path))
		assert.False(t, table.Allows(RoleLeader, CapManageTeams))
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		table := DefaultCapabilityTable()
		path := writeOverrides(t, `{"superuser": ["manage_users"]}`)
		assert.Error(t, table.LoadOverrides(path))
	})

	t.Run("failed load leaves the table untouched", func(t *testing.T) {
		table := DefaultCapabilityTable()
		path := writeOverrides(t, `{"admin": [], "leader": [], "user": [], "bogus": []}`)

		require.Error(t, table.LoadOverrides(path))

		assert.True(t, table.Allows(RoleAdmin, CapManageUsers), "valid roles listed before the bad one must keep their defaults")
		assert.True(t, table.Allows(RoleLeader, CapManageTeams))
		assert.True(t, table.Allows(RoleUser, CapViewSearch))
	})

	t.Run("malformed json is rejected", func(t *testing.T) {
		table := DefaultCapabilityTable()
		path := writeOverrides(t, `{not json`)
		assert.Error(t, table.LoadOverrides(path))
	})

	t.Run("missing file is rejected", func(t *testing.T) {
		table := DefaultCapabilityTable()
		assert.Error(t, table.LoadOverrides(filepath.Join(t.TempDir(), "absent.json")))
	})
}
