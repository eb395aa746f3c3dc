package provenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/csds-network/provenance/pkg/anchorid"
	"github.com/csds-network/provenance/pkg/ledger"
	"github.com/csds-network/provenance/pkg/metadata"
	"github.com/csds-network/provenance/pkg/store"
)

// ShareResult describes a completed disclosure.
type ShareResult struct {
	Signature         solana.Signature
	ShareIndex        uint64
	ShareAssetAddress string
}

// Share disclosures a report to a target organization: mints a share
// asset at the next free share ordinal, submits the share transaction,
// and records the disclosure link. The per-report lock serializes
// shares and revokes so ordinals are never minted twice.
func (e *Engine) Share(ctx context.Context, userID, reportID, sourceOrgID, targetOrgID string) (*ShareResult, error) {
	ctx, span := e.tracer.Start(ctx, "provenance.Share")
	defer span.End()
	span.SetAttributes(
		attribute.String("report_id", reportID),
		attribute.String("target_org_id", targetOrgID))

	lease, err := e.locker.Acquire(ctx, reportID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("lease release failed", "report_id", reportID, "error", err)
		}
	}()

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := e.requireSourceOrg(ctx, userID, sourceOrgID, report); err != nil {
		return nil, err
	}
	if targetOrgID == report.OrganizationID {
		return nil, fmt.Errorf("%w: report %s", ErrSelfDisclosure, reportID)
	}
	if !report.Anchored() {
		return nil, fmt.Errorf("%w: report %s", ErrNotAnchored, reportID)
	}

	sourceOrg, err := e.store.GetOrganization(ctx, report.OrganizationID)
	if err != nil {
		return nil, err
	}
	if sourceOrg.Wallet == nil {
		return nil, fmt.Errorf("%w: organization %s", ErrWalletMissing, sourceOrg.ID)
	}
	targetOrg, err := e.store.GetOrganization(ctx, targetOrgID)
	if err != nil {
		return nil, err
	}
	if targetOrg.Wallet == nil {
		return nil, fmt.Errorf("%w: organization %s", ErrWalletMissing, targetOrg.ID)
	}

	if _, err := e.store.GetLink(ctx, reportID, report.OrganizationID, targetOrgID); err == nil {
		return nil, fmt.Errorf("%w: %s -> %s for report %s",
			store.ErrDuplicateLink, report.OrganizationID, targetOrgID, reportID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	coll, err := e.collections.Obtain(report)
	if err != nil {
		return nil, err
	}

	shareIndex, err := e.store.NextShareIndex(ctx, reportID)
	if err != nil {
		return nil, err
	}

	numericID := anchorid.Derive(report.ID)
	now := e.now()

	doc := metadata.ForShare(metadata.ReportInfo{
		RecordID:         report.ID,
		Title:            report.Title,
		Description:      report.Description,
		CreatorWallet:    *sourceOrg.Wallet,
		OrganizationName: sourceOrg.Name,
		ThreatType:       report.ThreatType,
		Severity:         report.Severity,
		Status:           report.Status,
	}, targetOrg.Name, e.imageURL, now)

	contentURI, err := e.pin(ctx, doc)
	if err != nil {
		return nil, err
	}

	share, err := e.collections.Mint()
	if err != nil {
		return nil, err
	}

	targetWallet, err := solana.PublicKeyFromBase58(*targetOrg.Wallet)
	if err != nil {
		return nil, fmt.Errorf("provenance: parse wallet of organization %s: %w", targetOrg.ID, err)
	}

	accts, err := e.shareAccounts(coll.Address, share.Address, targetWallet, numericID, shareIndex)
	if err != nil {
		return nil, err
	}

	instr, err := e.programs.NewShareReport(accts, numericID, report.Title, shareIndex, contentURI)
	if err != nil {
		return nil, err
	}

	sig, err := e.submitter.Submit(ctx, []solana.Instruction{instr}, []solana.PrivateKey{coll.Key, share.Key})
	if err != nil {
		return nil, err
	}

	link := &store.DisclosureLink{
		ReportID:         report.ID,
		SourceOrgID:      report.OrganizationID,
		TargetOrgID:      targetOrgID,
		SharedAt:         now,
		ShareIndex:       shareIndex,
		ShareNFTAddress:  share.Address.String(),
		ShareKeyEnvelope: share.Envelope,
	}
	if err := e.store.CreateLink(ctx, link); err != nil {
		return nil, err
	}

	if e.notifier != nil {
		if err := e.notifier.ReportShared(ctx, report.ID, targetOrgID, share.Address.String(), now); err != nil {
			e.log.Warn("broker notification failed", "report_id", report.ID, "error", err)
		}
	}

	e.log.Info("report shared",
		"report_id", report.ID,
		"target_org_id", targetOrgID,
		"share_index", shareIndex,
		"share_asset", share.Address.String(),
		"signature", sig.String())

	return &ShareResult{
		Signature:         sig,
		ShareIndex:        shareIndex,
		ShareAssetAddress: share.Address.String(),
	}, nil
}

// Revoke withdraws a disclosure. On-chain links burn their share asset
// at the ordinal recorded when the share was minted; off-chain links
// from broadcasts are simply deleted.
func (e *Engine) Revoke(ctx context.Context, userID, reportID, sourceOrgID, targetOrgID string) error {
	ctx, span := e.tracer.Start(ctx, "provenance.Revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("report_id", reportID),
		attribute.String("target_org_id", targetOrgID))

	lease, err := e.locker.Acquire(ctx, reportID)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("lease release failed", "report_id", reportID, "error", err)
		}
	}()

	report, err := e.store.GetReport(ctx, reportID)
	if err != nil {
		return err
	}
	if err := e.requireSourceOrg(ctx, userID, sourceOrgID, report); err != nil {
		return err
	}

	link, err := e.store.GetLink(ctx, reportID, report.OrganizationID, targetOrgID)
	if err != nil {
		return err
	}

	if link.ShareIndex > 0 {
		if err := e.burnShare(ctx, report, link); err != nil {
			return err
		}
	}

	if err := e.store.DeleteLink(ctx, reportID, report.OrganizationID, targetOrgID); err != nil {
		return err
	}

	now := e.now()
	if e.notifier != nil {
		if err := e.notifier.ShareRevoked(ctx, report.ID, targetOrgID, now); err != nil {
			e.log.Warn("broker notification failed", "report_id", report.ID, "error", err)
		}
	}

	e.log.Info("share revoked",
		"report_id", report.ID,
		"target_org_id", targetOrgID,
		"share_index", link.ShareIndex)
	return nil
}

func (e *Engine) burnShare(ctx context.Context, report *store.Report, link *store.DisclosureLink) error {
	if !report.Anchored() {
		return fmt.Errorf("%w: report %s", ErrNotAnchored, report.ID)
	}

	coll, err := e.collections.Obtain(report)
	if err != nil {
		return err
	}
	share, err := e.collections.Open(link.ShareKeyEnvelope, link.ShareNFTAddress)
	if err != nil {
		return fmt.Errorf("provenance: open share keypair for report %s: %w", report.ID, err)
	}

	targetOrg, err := e.store.GetOrganization(ctx, link.TargetOrgID)
	if err != nil {
		return err
	}
	if targetOrg.Wallet == nil {
		return fmt.Errorf("%w: organization %s", ErrWalletMissing, targetOrg.ID)
	}
	targetWallet, err := solana.PublicKeyFromBase58(*targetOrg.Wallet)
	if err != nil {
		return fmt.Errorf("provenance: parse wallet of organization %s: %w", targetOrg.ID, err)
	}

	numericID := anchorid.Derive(report.ID)
	accts, err := e.shareAccounts(coll.Address, share.Address, targetWallet, numericID, link.ShareIndex)
	if err != nil {
		return err
	}

	instr, err := e.programs.NewRevokeShare(accts, numericID, link.ShareIndex)
	if err != nil {
		return err
	}

	sig, err := e.submitter.Submit(ctx, []solana.Instruction{instr}, []solana.PrivateKey{coll.Key, share.Key})
	if err != nil {
		return err
	}
	e.log.Info("share asset burned",
		"report_id", report.ID,
		"share_index", link.ShareIndex,
		"signature", sig.String())
	return nil
}

// Accept records that the acting user's organization acknowledges a
// disclosure it received. Purely off-ledger.
func (e *Engine) Accept(ctx context.Context, userID, reportID string) error {
	ctx, span := e.tracer.Start(ctx, "provenance.Accept")
	defer span.End()
	span.SetAttributes(attribute.String("report_id", reportID))

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := e.store.FindLinkByTarget(ctx, reportID, user.OrganizationID); err != nil {
		return err
	}
	if err := e.store.AcceptLink(ctx, reportID, user.OrganizationID); err != nil {
		return err
	}

	e.log.Info("disclosure accepted", "report_id", reportID, "organization_id", user.OrganizationID)
	return nil
}

// requireSourceOrg checks that the acting user belongs to sourceOrgID
// and that sourceOrgID is the report's owning organization. Only the
// owner discloses or revokes.
func (e *Engine) requireSourceOrg(ctx context.Context, userID, sourceOrgID string, report *store.Report) error {
	if err := e.requireMember(ctx, userID, sourceOrgID); err != nil {
		return err
	}
	if sourceOrgID != report.OrganizationID {
		return fmt.Errorf("%w: organization %s does not own report %s", ErrForbidden, sourceOrgID, report.ID)
	}
	return nil
}

func (e *Engine) shareAccounts(collectionAddr, shareAddr, targetWallet solana.PublicKey, numericID, shareIndex uint64) (ledger.ShareAccounts, error) {
	creator := e.submitter.Identity()

	reportCollection, _, err := e.programs.DeriveReportCollection(creator, numericID)
	if err != nil {
		return ledger.ShareAccounts{}, err
	}
	shareData, _, err := e.programs.DeriveShareData(creator, numericID, shareIndex)
	if err != nil {
		return ledger.ShareAccounts{}, err
	}
	return ledger.ShareAccounts{
		ReportCollection: reportCollection,
		ShareData:        shareData,
		Collection:       collectionAddr,
		ShareNFT:         shareAddr,
		Creator:          creator,
		SharedOrg:        targetWallet,
	}, nil
}
