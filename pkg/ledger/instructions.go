package ledger

import (
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Collection constants fixed by the deployed program's expectations.
const (
	CollectionName = "Report Collection"
	CollectionURI  = "https://example.com/collection.json"
)

// anchorDiscriminator returns the 8-byte instruction discriminator for a
// global Anchor method.
func anchorDiscriminator(method string) []byte {
	h := sha256.Sum256([]byte("global:" + method))
	return h[:8]
}

func encodeInstruction(method string, args interface{}) ([]byte, error) {
	body, err := bin.MarshalBorsh(args)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode %s args: %w", method, err)
	}
	return append(anchorDiscriminator(method), body...), nil
}

type createReportArgs struct {
	ReportID         uint64
	ReportName       string
	ContentURI       string
	CollectionName   string
	CollectionURI    string
	OrganizationName string
}

type shareReportArgs struct {
	ReportID   uint64
	ReportName string
	ShareIndex uint64
	ContentURI string
}

type revokeShareArgs struct {
	ReportID   uint64
	ShareIndex uint64
}

// CreateReportAccounts is the account set of the create_report instruction,
// in the order the deployed program declares them.
type CreateReportAccounts struct {
	ReportCollection solana.PublicKey
	ReportData       solana.PublicKey
	MetadataAccount  solana.PublicKey
	Collection       solana.PublicKey
	OwnerNFT         solana.PublicKey
	UpdateAuthority  solana.PublicKey
	Creator          solana.PublicKey
}

// NewCreateReport builds the create_report instruction anchoring a report
// and minting its owner asset.
func (p Programs) NewCreateReport(accts CreateReportAccounts, numericID uint64, reportName, contentURI, organizationName string) (solana.Instruction, error) {
	data, err := encodeInstruction("create_report", &createReportArgs{
		ReportID:         numericID,
		ReportName:       reportName,
		ContentURI:       contentURI,
		CollectionName:   CollectionName,
		CollectionURI:    CollectionURI,
		OrganizationName: organizationName,
	})
	if err != nil {
		return nil, err
	}

	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.ReportCollection, true, false),
		solana.NewAccountMeta(accts.ReportData, true, false),
		solana.NewAccountMeta(accts.MetadataAccount, true, false),
		solana.NewAccountMeta(accts.Collection, true, true),
		solana.NewAccountMeta(accts.OwnerNFT, true, true),
		solana.NewAccountMeta(accts.UpdateAuthority, false, true),
		solana.NewAccountMeta(accts.Creator, true, true),
		solana.NewAccountMeta(p.TokenMetadata, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(p.Core, false, false),
	}
	return solana.NewInstruction(p.Report, metas, data), nil
}

// ShareAccounts is the shared account set of the share_report and
// revoke_share instructions.
type ShareAccounts struct {
	ReportCollection solana.PublicKey
	ShareData        solana.PublicKey
	Collection       solana.PublicKey
	ShareNFT         solana.PublicKey
	Creator          solana.PublicKey
	SharedOrg        solana.PublicKey
}

func (p Programs) shareMetas(accts ShareAccounts) solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.NewAccountMeta(accts.ReportCollection, true, false),
		solana.NewAccountMeta(accts.ShareData, true, false),
		solana.NewAccountMeta(accts.Collection, true, true),
		solana.NewAccountMeta(accts.ShareNFT, true, true),
		solana.NewAccountMeta(accts.Creator, true, true),
		solana.NewAccountMeta(accts.SharedOrg, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(p.Core, false, false),
	}
}

// NewShareReport builds the share_report instruction minting a share asset
// for the disclosure at the given 1-based share index.
func (p Programs) NewShareReport(accts ShareAccounts, numericID uint64, reportName string, shareIndex uint64, contentURI string) (solana.Instruction, error) {
	data, err := encodeInstruction("share_report", &shareReportArgs{
		ReportID:   numericID,
		ReportName: reportName,
		ShareIndex: shareIndex,
		ContentURI: contentURI,
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.Report, p.shareMetas(accts), data), nil
}

// NewRevokeShare builds the revoke_share instruction burning the share
// asset minted at the given share index.
func (p Programs) NewRevokeShare(accts ShareAccounts, numericID, shareIndex uint64) (solana.Instruction, error) {
	data, err := encodeInstruction("revoke_share", &revokeShareArgs{
		ReportID:   numericID,
		ShareIndex: shareIndex,
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.Report, p.shareMetas(accts), data), nil
}
