// Package ledger builds, signs, and submits the on-chain transactions that
// anchor reports and disclosure events, and derives the deterministic
// program addresses those transactions operate on.
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed labels fixed by the deployed program.
const (
	seedReportCollection = "report_collection"
	seedReportData       = "report_data"
	seedShareNFT         = "share_nft"
	seedMetadata         = "metadata"
)

// Programs holds the program IDs every derivation and instruction targets.
type Programs struct {
	// Report is the deployed report-disclosure program.
	Report solana.PublicKey
	// TokenMetadata is the MPL token-metadata program.
	TokenMetadata solana.PublicKey
	// Core is the MPL core asset program.
	Core solana.PublicKey
}

func u64LE(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DeriveReportCollection returns the derived address grouping every asset
// minted for the report identified by numericID.
func (p Programs) DeriveReportCollection(creator solana.PublicKey, numericID uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(seedReportCollection), creator.Bytes(), u64LE(numericID)},
		p.Report,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("ledger: derive report collection: %w", err)
	}
	return addr, bump, nil
}

// DeriveReportData returns the derived address of the report-data account.
func (p Programs) DeriveReportData(creator solana.PublicKey, numericID uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(seedReportData), creator.Bytes(), u64LE(numericID)},
		p.Report,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("ledger: derive report data: %w", err)
	}
	return addr, bump, nil
}

// DeriveShareData returns the derived address of the share-data account for
// the given 1-based share index.
func (p Programs) DeriveShareData(creator solana.PublicKey, numericID, shareIndex uint64) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(seedShareNFT), creator.Bytes(), u64LE(numericID), u64LE(shareIndex)},
		p.Report,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("ledger: derive share data: %w", err)
	}
	return addr, bump, nil
}

// DeriveMetadataAccount returns the metadata account scoped to the MPL
// token-metadata program. The deployed program seeds it with the creator
// key rather than a mint; that layout is frozen.
func (p Programs) DeriveMetadataAccount(creator solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(seedMetadata), p.TokenMetadata.Bytes(), creator.Bytes()},
		p.TokenMetadata,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("ledger: derive metadata account: %w", err)
	}
	return addr, bump, nil
}
