package grants

import "github.com/knowledgeops/stacks/pkg/storage"

// Migrations returns the grant-table migrations. The level range and
// entity type are enforced with CHECK constraints so an invalid grant
// cannot enter the table even through an out-of-band write.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     20,
			Description: "Create grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS grants (
					entity_type VARCHAR(10) NOT NULL CHECK (entity_type IN ('user', 'team')),
					entity_id VARCHAR(255) NOT NULL,
					resource_id VARCHAR(255) NOT NULL,
					permission_level INTEGER NOT NULL CHECK (permission_level BETWEEN 0 AND 3),
					granted_by VARCHAR(255),
					granted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE (entity_type, entity_id, resource_id)
				);

				CREATE INDEX IF NOT EXISTS idx_grants_resource_id ON grants(resource_id);
				CREATE INDEX IF NOT EXISTS idx_grants_entity ON grants(entity_type, entity_id);
			`,
		},
	}
}
