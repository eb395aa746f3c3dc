package store

import (
	"context"
	"fmt"
)

// Schema is the DDL this store expects. The unique constraint on
// (source_org_id, target_org_id, report_id) and the one on
// (report_id, share_index) are correctness backstops, not just indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	wallet     TEXT,
	sphere     TEXT
);

CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL,
	role            TEXT NOT NULL,
	organization_id TEXT NOT NULL REFERENCES organizations(id)
);

CREATE TABLE IF NOT EXISTS user_organizations (
	user_id         TEXT NOT NULL REFERENCES users(id),
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	PRIMARY KEY (user_id, organization_id)
);

CREATE TABLE IF NOT EXISTS reports (
	id                      TEXT PRIMARY KEY,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL,
	type_of_threat          TEXT NOT NULL DEFAULT '',
	severity                TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL DEFAULT '',
	organization_id         TEXT NOT NULL REFERENCES organizations(id),
	author_id               TEXT NOT NULL REFERENCES users(id),
	submitted               BOOLEAN NOT NULL DEFAULT FALSE,
	broadcasted             BOOLEAN NOT NULL DEFAULT FALSE,
	share_counter           BIGINT NOT NULL DEFAULT 0,
	submitted_at            TIMESTAMPTZ,
	collection_address      TEXT,
	collection_key_envelope TEXT,
	anchor_hash             TEXT
);

CREATE TABLE IF NOT EXISTS disclosure_links (
	report_id          TEXT NOT NULL REFERENCES reports(id),
	source_org_id      TEXT NOT NULL REFERENCES organizations(id),
	target_org_id      TEXT NOT NULL REFERENCES organizations(id),
	shared_at          TIMESTAMPTZ NOT NULL,
	accepted_share     BOOLEAN NOT NULL DEFAULT FALSE,
	share_index        BIGINT,
	share_nft_address  TEXT,
	share_key_envelope TEXT,
	PRIMARY KEY (source_org_id, target_org_id, report_id),
	UNIQUE (report_id, share_index)
);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}
