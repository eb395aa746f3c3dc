// Package store is the relational persistence collaborator: reports,
// organizations, members, and disclosure links.
//
// The engine only reads these rows and writes anchor/disclosure fields
// back after a ledger transaction is durably confirmed. The unique
// constraint on (source_org_id, target_org_id, report_id) is the backstop
// that rejects duplicate links under concurrency.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Role values assigned to platform users.
type Role string

const (
	// RoleGovBody marks members of oversight organizations.
	RoleGovBody Role = "GovBody"
	// RoleDataProvider marks members of reporting organizations.
	RoleDataProvider Role = "DataProvider"
	// RoleDataConsumer marks members of consuming organizations.
	RoleDataConsumer Role = "DataConsumer"
)

var (
	// ErrNotFound indicates a missing report, organization, user, or link.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateLink indicates the (source, target, report) triple is
	// already linked.
	ErrDuplicateLink = errors.New("store: duplicate disclosure link")
)

// uniqueViolation is the Postgres error code for constraint 23505.
const uniqueViolation = "23505"

// Report is a threat report row. Anchor fields stay nil until the report
// is anchored on the ledger.
type Report struct {
	ID             string
	Title          string
	Description    string
	ThreatType     string
	Severity       string
	Status         string
	OrganizationID string
	AuthorID       string
	Submitted      bool
	Broadcasted    bool
	SubmittedAt    *time.Time

	CollectionAddress     *string
	CollectionKeyEnvelope *string
	AnchorHash            *string
}

// Anchored reports whether the report carries its collection keypair.
func (r *Report) Anchored() bool {
	return r.CollectionAddress != nil && r.CollectionKeyEnvelope != nil
}

// Organization is an organization row. Wallet stays nil until the
// organization provisions a ledger wallet.
type Organization struct {
	ID     string
	Name   string
	Wallet *string
	Sphere *string
}

// User is a platform user row.
type User struct {
	ID             string
	Name           string
	Email          string
	Role           Role
	OrganizationID string
}

// DisclosureLink is one disclosure of a report to a target organization.
// Links created by on-chain sharing carry ShareIndex, ShareNFTAddress and
// ShareKeyEnvelope; links created by off-chain broadcast leave them zero.
type DisclosureLink struct {
	ReportID         string
	SourceOrgID      string
	TargetOrgID      string
	SharedAt         time.Time
	AcceptedShare    bool
	ShareIndex       uint64
	ShareNFTAddress  string
	ShareKeyEnvelope string
}

// Store provides Postgres-backed persistence.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetReport loads a report by record ID.
func (s *Store) GetReport(ctx context.Context, id string) (*Report, error) {
	const q = `
		SELECT id, title, description, type_of_threat, severity, status,
		       organization_id, author_id, submitted, broadcasted, submitted_at,
		       collection_address, collection_key_envelope, anchor_hash
		FROM reports WHERE id = $1`

	var r Report
	var submittedAt sql.NullTime
	var collAddr, collEnv, anchorHash sql.NullString

	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&r.ID, &r.Title, &r.Description, &r.ThreatType, &r.Severity, &r.Status,
		&r.OrganizationID, &r.AuthorID, &r.Submitted, &r.Broadcasted, &submittedAt,
		&collAddr, &collEnv, &anchorHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: report %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get report: %w", err)
	}

	if submittedAt.Valid {
		r.SubmittedAt = &submittedAt.Time
	}
	if collAddr.Valid {
		r.CollectionAddress = &collAddr.String
	}
	if collEnv.Valid {
		r.CollectionKeyEnvelope = &collEnv.String
	}
	if anchorHash.Valid {
		r.AnchorHash = &anchorHash.String
	}
	return &r, nil
}

// SetReportCollection persists a freshly minted collection keypair. Called
// only after the anchoring transaction that used it is confirmed.
func (s *Store) SetReportCollection(ctx context.Context, reportID, address, envelope string) error {
	const q = `UPDATE reports SET collection_address = $2, collection_key_envelope = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, reportID, address, envelope)
	if err != nil {
		return fmt.Errorf("store: set report collection: %w", err)
	}
	return requireRow(res, reportID)
}

// MarkSubmitted records a successful anchoring: the owner asset hash,
// submission time, and the submitted flag.
func (s *Store) MarkSubmitted(ctx context.Context, reportID, anchorHash string, at time.Time) error {
	const q = `UPDATE reports SET anchor_hash = $2, submitted_at = $3, submitted = TRUE WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, reportID, anchorHash, at)
	if err != nil {
		return fmt.Errorf("store: mark submitted: %w", err)
	}
	return requireRow(res, reportID)
}

// SetBroadcasted flips the report's broadcast flag.
func (s *Store) SetBroadcasted(ctx context.Context, reportID string, broadcasted bool) error {
	const q = `UPDATE reports SET broadcasted = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, reportID, broadcasted)
	if err != nil {
		return fmt.Errorf("store: set broadcasted: %w", err)
	}
	return requireRow(res, reportID)
}

// GetOrganization loads an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	const q = `SELECT id, name, wallet, sphere FROM organizations WHERE id = $1`

	var o Organization
	var wallet, sphere sql.NullString
	err := s.db.QueryRowContext(ctx, q, id).Scan(&o.ID, &o.Name, &wallet, &sphere)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get organization: %w", err)
	}
	if wallet.Valid {
		o.Wallet = &wallet.String
	}
	if sphere.Valid {
		o.Sphere = &sphere.String
	}
	return &o, nil
}

// GetUser loads a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	const q = `SELECT id, name, email, role, organization_id FROM users WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.OrganizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

// IsMember reports whether the user belongs to the organization.
func (s *Store) IsMember(ctx context.Context, userID, orgID string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM user_organizations WHERE user_id = $1 AND organization_id = $2)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, q, userID, orgID).Scan(&ok); err != nil {
		return false, fmt.Errorf("store: membership check: %w", err)
	}
	return ok, nil
}

// IsOversightOrg reports whether the organization has at least one member
// holding the oversight role.
func (s *Store) IsOversightOrg(ctx context.Context, orgID string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM users u
		JOIN user_organizations uo ON uo.user_id = u.id
		WHERE uo.organization_id = $1 AND u.role = $2)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, q, orgID, RoleGovBody).Scan(&ok); err != nil {
		return false, fmt.Errorf("store: oversight check: %w", err)
	}
	return ok, nil
}

// OrganizationsBySphere lists organizations in a sphere, excluding one.
func (s *Store) OrganizationsBySphere(ctx context.Context, sphere, excludeOrgID string) ([]Organization, error) {
	const q = `SELECT id, name, wallet, sphere FROM organizations
		WHERE sphere = $1 AND id <> $2 ORDER BY id`
	return s.queryOrganizations(ctx, q, sphere, excludeOrgID)
}

// OrganizationsWithRole lists organizations with at least one member
// holding the role, excluding one organization.
func (s *Store) OrganizationsWithRole(ctx context.Context, role Role, excludeOrgID string) ([]Organization, error) {
	const q = `SELECT DISTINCT o.id, o.name, o.wallet, o.sphere
		FROM organizations o
		JOIN user_organizations uo ON uo.organization_id = o.id
		JOIN users u ON u.id = uo.user_id
		WHERE u.role = $1 AND o.id <> $2 ORDER BY o.id`
	return s.queryOrganizations(ctx, q, role, excludeOrgID)
}

func (s *Store) queryOrganizations(ctx context.Context, q string, args ...interface{}) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var o Organization
		var wallet, sphere sql.NullString
		if err := rows.Scan(&o.ID, &o.Name, &wallet, &sphere); err != nil {
			return nil, fmt.Errorf("store: scan organization: %w", err)
		}
		if wallet.Valid {
			o.Wallet = &wallet.String
		}
		if sphere.Valid {
			o.Sphere = &sphere.String
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// isUniqueViolation reports whether err is the Postgres unique-constraint
// error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
