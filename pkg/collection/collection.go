// Package collection manages the per-report collection keypair: one
// ed25519 keypair minted the first time a report is anchored, sealed
// into an envelope, and reused verbatim for every later anchor, share,
// or revoke of that report.
package collection

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/csds-network/provenance/pkg/keyvault"
	"github.com/csds-network/provenance/pkg/store"
)

// ErrIntegrity indicates a stored envelope that decrypts to a keypair
// whose public key does not match the report's recorded collection
// address. The keypair is never silently regenerated in that case:
// assets already minted under the recorded address would be orphaned.
var ErrIntegrity = errors.New("collection: envelope does not match recorded address")

// Keypair is a report's collection signing key, resolved from storage
// or freshly minted.
type Keypair struct {
	Key     solana.PrivateKey
	Address solana.PublicKey

	// IsNew is true when the keypair was minted by this call and still
	// has to be persisted once the anchoring transaction confirms.
	IsNew    bool
	Envelope string
}

// Manager resolves collection keypairs for reports.
type Manager struct {
	vault *keyvault.Vault
}

// NewManager creates a Manager sealing keypairs with the given vault.
func NewManager(vault *keyvault.Vault) *Manager {
	return &Manager{vault: vault}
}

// Obtain returns the report's collection keypair. An anchored report
// yields its stored keypair after an integrity check against the
// recorded address; an unanchored report yields a fresh keypair with
// IsNew set.
func (m *Manager) Obtain(report *store.Report) (*Keypair, error) {
	if report.Anchored() {
		kp, err := m.Open(*report.CollectionKeyEnvelope, *report.CollectionAddress)
		if err != nil {
			return nil, fmt.Errorf("collection: report %s: %w", report.ID, err)
		}
		return kp, nil
	}
	return m.Mint()
}

// Open unseals an envelope and checks the keypair against its recorded
// address.
func (m *Manager) Open(sealedEnvelope, address string) (*Keypair, error) {
	raw, err := m.vault.Decrypt(sealedEnvelope)
	if err != nil {
		return nil, err
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("collection: envelope holds %d bytes, want 64", len(raw))
	}

	key := solana.PrivateKey(raw)
	if key.PublicKey().String() != address {
		return nil, ErrIntegrity
	}

	return &Keypair{
		Key:      key,
		Address:  key.PublicKey(),
		Envelope: sealedEnvelope,
	}, nil
}

// Mint generates a fresh sealed keypair. Used for new collections and
// for per-disclosure share assets.
func (m *Manager) Mint() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("collection: generate keypair: %w", err)
	}
	env, err := m.vault.Encrypt(key)
	if err != nil {
		return nil, fmt.Errorf("collection: seal keypair: %w", err)
	}
	return &Keypair{
		Key:      key,
		Address:  key.PublicKey(),
		IsNew:    true,
		Envelope: env,
	}, nil
}
