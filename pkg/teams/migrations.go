package teams

import "github.com/knowledgeops/stacks/pkg/storage"

// Migrations returns the team and membership migrations. The composite
// primary key keeps a user in a team at most once; both foreign keys
// cascade so removing a user or a team cleans up memberships.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     10,
			Description: "Create teams table",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					project VARCHAR(255),
					description TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     11,
			Description: "Create team_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_members (
					team_id UUID NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(10) NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'leader')),
					added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					PRIMARY KEY (team_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_team_members_user_id ON team_members(user_id);
			`,
		},
	}
}
