package provenance

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/csds-network/provenance/pkg/anchorid"
	"github.com/csds-network/provenance/pkg/ledger"
	"github.com/csds-network/provenance/pkg/metadata"
	"github.com/csds-network/provenance/pkg/store"
)

// AnchorResult describes a completed anchoring.
type AnchorResult struct {
	Signature         solana.Signature
	CollectionAddress string
	// AnchorHash is the address of the owner asset minted by this
	// anchoring. Re-anchoring mints a fresh owner asset, so the hash
	// changes while the collection address stays fixed.
	AnchorHash string
}

// AnchorCreate anchors a report on the ledger: it resolves or mints the
// report's collection keypair, publishes the asset document, submits
// the create transaction, and persists the outcome. Re-anchoring an
// already anchored report reuses the stored collection and mints a new
// owner asset.
func (e *Engine) AnchorCreate(ctx context.Context, userID, reportID string) (*AnchorResult, error) {
	ctx, span := e.tracer.Start(ctx, "provenance.AnchorCreate")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, userID, report.OrganizationID); err != nil {
		return nil, err
	}

	org, err := e.store.GetOrganization(ctx, report.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org.Wallet == nil {
		return nil, fmt.Errorf("%w: organization %s", ErrWalletMissing, org.ID)
	}

	coll, err := e.collections.Obtain(report)
	if err != nil {
		return nil, err
	}

	numericID := anchorid.Derive(report.ID)
	now := e.now()

	doc := metadata.ForReport(metadata.ReportInfo{
		RecordID:         report.ID,
		Title:            report.Title,
		Description:      report.Description,
		CreatorWallet:    *org.Wallet,
		OrganizationName: org.Name,
		ThreatType:       report.ThreatType,
		Severity:         report.Severity,
		Status:           report.Status,
	}, e.imageURL, now)

	contentURI, err := e.pin(ctx, doc)
	if err != nil {
		return nil, err
	}

	creator := e.submitter.Identity()
	accts, err := e.createAccounts(creator, coll.Address, numericID)
	if err != nil {
		return nil, err
	}

	// The owner asset keypair signs once at mint time and is then
	// discarded; only its address is kept as the anchor hash.
	owner, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("provenance: generate owner asset keypair: %w", err)
	}
	accts.OwnerNFT = owner.PublicKey()

	instr, err := e.programs.NewCreateReport(accts, numericID, report.Title, contentURI, org.Name)
	if err != nil {
		return nil, err
	}

	sig, err := e.submitter.Submit(ctx, []solana.Instruction{instr}, []solana.PrivateKey{coll.Key, owner})
	if err != nil {
		return nil, err
	}

	if coll.IsNew {
		if err := e.store.SetReportCollection(ctx, report.ID, coll.Address.String(), coll.Envelope); err != nil {
			return nil, err
		}
	}

	anchorHash := owner.PublicKey().String()
	if err := e.store.MarkSubmitted(ctx, report.ID, anchorHash, now); err != nil {
		return nil, err
	}

	e.autoDiscloseToOversight(ctx, report, now)

	if e.notifier != nil {
		if err := e.notifier.ReportAnchored(ctx, report.ID, coll.Address.String(), anchorHash, now); err != nil {
			e.log.Warn("broker notification failed", "report_id", report.ID, "error", err)
		}
	}

	e.log.Info("report anchored",
		"report_id", report.ID,
		"collection", coll.Address.String(),
		"anchor_hash", anchorHash,
		"signature", sig.String())

	return &AnchorResult{
		Signature:         sig,
		CollectionAddress: coll.Address.String(),
		AnchorHash:        anchorHash,
	}, nil
}

func (e *Engine) createAccounts(creator, collectionAddr solana.PublicKey, numericID uint64) (ledger.CreateReportAccounts, error) {
	reportCollection, _, err := e.programs.DeriveReportCollection(creator, numericID)
	if err != nil {
		return ledger.CreateReportAccounts{}, err
	}
	reportData, _, err := e.programs.DeriveReportData(creator, numericID)
	if err != nil {
		return ledger.CreateReportAccounts{}, err
	}
	metadataAccount, _, err := e.programs.DeriveMetadataAccount(creator)
	if err != nil {
		return ledger.CreateReportAccounts{}, err
	}
	return ledger.CreateReportAccounts{
		ReportCollection: reportCollection,
		ReportData:       reportData,
		MetadataAccount:  metadataAccount,
		Collection:       collectionAddr,
		UpdateAuthority:  creator,
		Creator:          creator,
	}, nil
}

// autoDiscloseToOversight grants every oversight organization an
// accepted off-chain link to a freshly anchored report. The anchor is
// already durable at this point, so a failure is logged rather than
// surfaced.
func (e *Engine) autoDiscloseToOversight(ctx context.Context, report *store.Report, at time.Time) {
	orgs, err := e.store.OrganizationsWithRole(ctx, store.RoleGovBody, report.OrganizationID)
	if err != nil {
		e.log.Warn("listing oversight organizations failed", "report_id", report.ID, "error", err)
		return
	}
	if len(orgs) == 0 {
		return
	}

	ids := make([]string, len(orgs))
	for i, org := range orgs {
		ids[i] = org.ID
	}
	created, err := e.store.CreateLinksBulk(ctx, report.ID, report.OrganizationID, ids, true, at)
	if err != nil {
		e.log.Warn("oversight disclosure failed", "report_id", report.ID, "error", err)
		return
	}
	if created > 0 {
		e.log.Info("report disclosed to oversight", "report_id", report.ID, "organizations", created)
	}
}

func (e *Engine) pin(ctx context.Context, doc metadata.Document) (string, error) {
	raw, err := doc.CanonicalJSON()
	if err != nil {
		return "", err
	}
	uri, err := e.pinner.PinJSON(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("provenance: publish asset document: %w", err)
	}
	return uri, nil
}

func (e *Engine) requireMember(ctx context.Context, userID, orgID string) error {
	ok, err := e.store.IsMember(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %s is not a member of organization %s", ErrForbidden, userID, orgID)
	}
	return nil
}
