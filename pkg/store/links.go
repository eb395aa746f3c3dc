package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const linkColumns = `report_id, source_org_id, target_org_id, shared_at,
	accepted_share, share_index, share_nft_address, share_key_envelope`

func scanLink(scan func(dest ...interface{}) error) (*DisclosureLink, error) {
	var l DisclosureLink
	var shareIndex sql.NullInt64
	var nftAddr, keyEnv sql.NullString

	err := scan(&l.ReportID, &l.SourceOrgID, &l.TargetOrgID, &l.SharedAt,
		&l.AcceptedShare, &shareIndex, &nftAddr, &keyEnv)
	if err != nil {
		return nil, err
	}
	if shareIndex.Valid {
		l.ShareIndex = uint64(shareIndex.Int64)
	}
	if nftAddr.Valid {
		l.ShareNFTAddress = nftAddr.String
	}
	if keyEnv.Valid {
		l.ShareKeyEnvelope = keyEnv.String
	}
	return &l, nil
}

// GetLink loads the link for a (report, source, target) triple.
func (s *Store) GetLink(ctx context.Context, reportID, sourceOrgID, targetOrgID string) (*DisclosureLink, error) {
	q := `SELECT ` + linkColumns + ` FROM disclosure_links
		WHERE report_id = $1 AND source_org_id = $2 AND target_org_id = $3`

	link, err := scanLink(s.db.QueryRowContext(ctx, q, reportID, sourceOrgID, targetOrgID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: link %s -> %s for report %s", ErrNotFound, sourceOrgID, targetOrgID, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get link: %w", err)
	}
	return link, nil
}

// FindLinkByTarget loads the link targeting an organization for a
// report, regardless of source. The primary key permits one link per
// source, so when several sources disclosed to the same organization
// the oldest link is returned.
func (s *Store) FindLinkByTarget(ctx context.Context, reportID, targetOrgID string) (*DisclosureLink, error) {
	q := `SELECT ` + linkColumns + ` FROM disclosure_links
		WHERE report_id = $1 AND target_org_id = $2
		ORDER BY shared_at ASC LIMIT 1`

	link, err := scanLink(s.db.QueryRowContext(ctx, q, reportID, targetOrgID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no link targeting %s for report %s", ErrNotFound, targetOrgID, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: find link by target: %w", err)
	}
	return link, nil
}

// ListLinks returns every link for a report in creation order.
func (s *Store) ListLinks(ctx context.Context, reportID string) ([]DisclosureLink, error) {
	q := `SELECT ` + linkColumns + ` FROM disclosure_links
		WHERE report_id = $1 ORDER BY shared_at ASC`

	rows, err := s.db.QueryContext(ctx, q, reportID)
	if err != nil {
		return nil, fmt.Errorf("store: list links: %w", err)
	}
	defer rows.Close()

	var links []DisclosureLink
	for rows.Next() {
		link, err := scanLink(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

// NextShareIndex atomically draws the next 1-based share ordinal for a
// report. The counter on the report row only ever moves forward, so
// revoked links leave gaps and their indexes are never reassigned.
func (s *Store) NextShareIndex(ctx context.Context, reportID string) (uint64, error) {
	const q = `UPDATE reports SET share_counter = share_counter + 1
		WHERE id = $1 RETURNING share_counter`

	var next uint64
	err := s.db.QueryRowContext(ctx, q, reportID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: report %s", ErrNotFound, reportID)
	}
	if err != nil {
		return 0, fmt.Errorf("store: next share index: %w", err)
	}
	return next, nil
}

// CreateLink inserts a disclosure link. A zero ShareIndex (off-chain
// link) is stored as NULL. Returns ErrDuplicateLink when the triple is
// already linked.
func (s *Store) CreateLink(ctx context.Context, link *DisclosureLink) error {
	const q = `INSERT INTO disclosure_links
		(report_id, source_org_id, target_org_id, shared_at, accepted_share,
		 share_index, share_nft_address, share_key_envelope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var shareIndex interface{}
	if link.ShareIndex > 0 {
		shareIndex = int64(link.ShareIndex)
	}
	var nftAddr, keyEnv interface{}
	if link.ShareNFTAddress != "" {
		nftAddr = link.ShareNFTAddress
	}
	if link.ShareKeyEnvelope != "" {
		keyEnv = link.ShareKeyEnvelope
	}

	_, err := s.db.ExecContext(ctx, q,
		link.ReportID, link.SourceOrgID, link.TargetOrgID, link.SharedAt,
		link.AcceptedShare, shareIndex, nftAddr, keyEnv,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s -> %s for report %s", ErrDuplicateLink, link.SourceOrgID, link.TargetOrgID, link.ReportID)
	}
	if err != nil {
		return fmt.Errorf("store: create link: %w", err)
	}
	return nil
}

// CreateLinksBulk inserts one off-chain link per target organization,
// skipping triples that already exist. Returns the number of links
// actually created.
func (s *Store) CreateLinksBulk(ctx context.Context, reportID, sourceOrgID string, targetOrgIDs []string, accepted bool, at time.Time) (int64, error) {
	const q = `INSERT INTO disclosure_links
		(report_id, source_org_id, target_org_id, shared_at, accepted_share)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_org_id, target_org_id, report_id) DO NOTHING`

	var created int64
	for _, target := range targetOrgIDs {
		res, err := s.db.ExecContext(ctx, q, reportID, sourceOrgID, target, at, accepted)
		if err != nil {
			return created, fmt.Errorf("store: bulk create link for %s: %w", target, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, fmt.Errorf("store: rows affected: %w", err)
		}
		created += n
	}
	return created, nil
}

// AcceptLink marks the link targeting targetOrgID as accepted.
func (s *Store) AcceptLink(ctx context.Context, reportID, targetOrgID string) error {
	const q = `UPDATE disclosure_links SET accepted_share = TRUE
		WHERE report_id = $1 AND target_org_id = $2`

	res, err := s.db.ExecContext(ctx, q, reportID, targetOrgID)
	if err != nil {
		return fmt.Errorf("store: accept link: %w", err)
	}
	return requireRow(res, reportID)
}

// DeleteLink removes a link row entirely (revocation is a hard delete).
func (s *Store) DeleteLink(ctx context.Context, reportID, sourceOrgID, targetOrgID string) error {
	const q = `DELETE FROM disclosure_links
		WHERE report_id = $1 AND source_org_id = $2 AND target_org_id = $3`

	res, err := s.db.ExecContext(ctx, q, reportID, sourceOrgID, targetOrgID)
	if err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	return requireRow(res, reportID)
}

// DeleteNonOversightLinks removes every link for the report whose target
// is not an oversight organization. Returns the number of rows removed.
func (s *Store) DeleteNonOversightLinks(ctx context.Context, reportID string) (int64, error) {
	const q = `DELETE FROM disclosure_links
		WHERE report_id = $1 AND target_org_id NOT IN (
			SELECT uo.organization_id FROM users u
			JOIN user_organizations uo ON uo.user_id = u.id
			WHERE u.role = $2)`

	res, err := s.db.ExecContext(ctx, q, reportID, RoleGovBody)
	if err != nil {
		return 0, fmt.Errorf("store: delete non-oversight links: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return n, nil
}
