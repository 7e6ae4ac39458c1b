package buckets

import "github.com/knowledgeops/stacks/pkg/storage"

// Migrations returns the bucket-table migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     30,
			Description: "Create buckets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS buckets (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_buckets_owner_id ON buckets(owner_id);
			`,
		},
	}
}
