// Package provenance implements the report provenance and
// disclosure-control engine: anchoring reports on the ledger, minting
// and burning per-disclosure share assets, and maintaining the
// disclosure-link graph those events are mirrored into.
//
// The engine orders every operation the same way: authorize, prepare
// off-ledger artifacts, submit the ledger transaction, and only then
// persist. A failed submission leaves the database untouched.
package provenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/csds-network/provenance/pkg/collection"
	"github.com/csds-network/provenance/pkg/ledger"
	"github.com/csds-network/provenance/pkg/store"
)

// Store is the persistence surface the engine needs. *store.Store
// satisfies it.
type Store interface {
	GetReport(ctx context.Context, id string) (*store.Report, error)
	SetReportCollection(ctx context.Context, reportID, address, envelope string) error
	MarkSubmitted(ctx context.Context, reportID, anchorHash string, at time.Time) error
	SetBroadcasted(ctx context.Context, reportID string, broadcasted bool) error

	GetOrganization(ctx context.Context, id string) (*store.Organization, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	IsMember(ctx context.Context, userID, orgID string) (bool, error)
	IsOversightOrg(ctx context.Context, orgID string) (bool, error)
	OrganizationsBySphere(ctx context.Context, sphere, excludeOrgID string) ([]store.Organization, error)
	OrganizationsWithRole(ctx context.Context, role store.Role, excludeOrgID string) ([]store.Organization, error)

	GetLink(ctx context.Context, reportID, sourceOrgID, targetOrgID string) (*store.DisclosureLink, error)
	FindLinkByTarget(ctx context.Context, reportID, targetOrgID string) (*store.DisclosureLink, error)
	NextShareIndex(ctx context.Context, reportID string) (uint64, error)
	CreateLink(ctx context.Context, link *store.DisclosureLink) error
	CreateLinksBulk(ctx context.Context, reportID, sourceOrgID string, targetOrgIDs []string, accepted bool, at time.Time) (int64, error)
	AcceptLink(ctx context.Context, reportID, targetOrgID string) error
	DeleteLink(ctx context.Context, reportID, sourceOrgID, targetOrgID string) error
	DeleteNonOversightLinks(ctx context.Context, reportID string) (int64, error)
}

// Submitter signs and lands ledger transactions. *ledger.Submitter
// satisfies it.
type Submitter interface {
	Identity() solana.PublicKey
	Submit(ctx context.Context, instrs []solana.Instruction, signers []solana.PrivateKey) (solana.Signature, error)
}

// Pinner publishes asset documents to content-addressed storage.
type Pinner interface {
	PinJSON(ctx context.Context, content []byte) (string, error)
}

// Lease is a held per-report mutation lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker serializes share and revoke per report.
type Locker interface {
	Acquire(ctx context.Context, reportID string) (Lease, error)
}

// Notifier mirrors provenance events to the context broker. All calls
// are best effort.
type Notifier interface {
	ReportAnchored(ctx context.Context, reportID, collectionAddress, anchorHash string, at time.Time) error
	ReportShared(ctx context.Context, reportID, targetOrgID, shareAssetAddress string, at time.Time) error
	ShareRevoked(ctx context.Context, reportID, targetOrgID string, at time.Time) error
	ReportBroadcasted(ctx context.Context, reportID string, reached int64, at time.Time) error
}

// Engine coordinates the provenance operations.
type Engine struct {
	store       Store
	submitter   Submitter
	pinner      Pinner
	locker      Locker
	notifier    Notifier
	collections *collection.Manager
	programs    ledger.Programs

	log    *slog.Logger
	tracer trace.Tracer

	imageURL string
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a context-broker notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithImageURL overrides the image attached to asset documents.
func WithImageURL(url string) Option {
	return func(e *Engine) { e.imageURL = url }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New assembles an Engine.
func New(st Store, sub Submitter, pin Pinner, lock Locker, coll *collection.Manager, programs ledger.Programs, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		submitter:   sub,
		pinner:      pin,
		locker:      lock,
		collections: coll,
		programs:    programs,
		log:         log,
		tracer:      otel.Tracer("provenance"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
