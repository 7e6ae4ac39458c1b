package users

import "github.com/knowledgeops/stacks/pkg/storage"

// Migrations returns the user-table migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					display_name VARCHAR(255),
					role VARCHAR(20) NOT NULL CHECK (role IN ('admin', 'leader', 'user')),
					capabilities TEXT[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
	}
}
