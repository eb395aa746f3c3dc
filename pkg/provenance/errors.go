package provenance

import "errors"

var (
	// ErrForbidden indicates the acting user is not authorized for the
	// operation: not a member of the report's organization, or not part
	// of an oversight organization for network-wide operations.
	ErrForbidden = errors.New("provenance: operation not permitted for user")

	// ErrWalletMissing indicates an organization that has not
	// provisioned a ledger wallet yet.
	ErrWalletMissing = errors.New("provenance: organization has no wallet")

	// ErrNotAnchored indicates a disclosure attempted before the report
	// was anchored.
	ErrNotAnchored = errors.New("provenance: report is not anchored")

	// ErrSelfDisclosure indicates a share targeting the report's own
	// organization.
	ErrSelfDisclosure = errors.New("provenance: cannot share a report with its own organization")
)
